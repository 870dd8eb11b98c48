package models

type PaymentMethod string

const (
	PaymentMethodCOD    PaymentMethod = "COD"
	PaymentMethodPickup PaymentMethod = "Pickup"
)

func (p PaymentMethod) IsValid() bool {
	switch p {
	case PaymentMethodCOD, PaymentMethodPickup:
		return true
	}
	return false
}

type SuccessOrderStatus string

const (
	SuccessOrderStatusPending    SuccessOrderStatus = "Pending"
	SuccessOrderStatusApproved   SuccessOrderStatus = "Approved"
	SuccessOrderStatusCancelled  SuccessOrderStatus = "Cancelled"
	SuccessOrderStatusHandedOver SuccessOrderStatus = "handedOver"
)

func (s SuccessOrderStatus) IsValid() bool {
	switch s {
	case SuccessOrderStatusPending, SuccessOrderStatusApproved, SuccessOrderStatusCancelled, SuccessOrderStatusHandedOver:
		return true
	}
	return false
}

// IsTerminal reports whether no further lifecycle progress is expected.
func (s SuccessOrderStatus) IsTerminal() bool {
	return s == SuccessOrderStatusCancelled || s == SuccessOrderStatusHandedOver
}

type ItemType string

const (
	ItemTypeProduct  ItemType = "Product"
	ItemTypePreBuild ItemType = "PreBuild"
)

func (t ItemType) IsValid() bool {
	return t == ItemTypeProduct || t == ItemTypePreBuild
}

type TransactionType string

const (
	TransactionTypeIncome  TransactionType = "Income"
	TransactionTypeExpense TransactionType = "Expense"
)

func (t TransactionType) IsValid() bool {
	return t == TransactionTypeIncome || t == TransactionTypeExpense
}

type InvoiceStatus string

const (
	InvoiceStatusPaid    InvoiceStatus = "Paid"
	InvoiceStatusPending InvoiceStatus = "Pending"
)

type InquiryStatus string

const (
	InquiryStatusPending  InquiryStatus = "Pending"
	InquiryStatusResolved InquiryStatus = "Resolved"
)

type InquiryType string

const (
	InquiryTypeGeneral             InquiryType = "General"
	InquiryTypeProductAvailability InquiryType = "Product Availability"
	InquiryTypeSupport             InquiryType = "Support"
)

type PreBuildCategory string

const (
	PreBuildCategoryGaming PreBuildCategory = "Gaming"
	PreBuildCategoryBudget PreBuildCategory = "Budget"
)

// Ledger categories written by the pipeline itself.
const (
	TransactionCategorySales     = "sales"
	TransactionCategoryPettyCash = "Petty cash expense"
)
