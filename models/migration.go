package models

import (
	"log"

	"github.com/alphaitsolutions/storefront_backend/config"
	"gorm.io/gorm"
)

func MigrateTable() {
	if err := AutoMigrate(config.GetDB()); err != nil {
		log.Fatal(err)
	}
}

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Order{},
		&SuccessOrder{}, &SuccessOrderItem{},
		&Transaction{}, &PettyCash{},
		&Invoice{}, &InvoiceItem{},
		&Inquiry{},
		&Product{}, &PreBuild{},
		&OutboxJob{},
		&IdempotencyKey{},
	)
}
