package gormstore

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// WalletModel represents the wallets table.
type WalletModel struct {
	WalletID         string          `gorm:"type:uuid;primaryKey"`
	UserID           string          `gorm:"not null;uniqueIndex:uniq_wallets_user"`
	AvailableBalance decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0"`
	PendingBalance   decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0"`
	Currency         string          `gorm:"not null"`
	CreatedAt        time.Time       `gorm:"not null"`
	UpdatedAt        time.Time       `gorm:"not null"`
}

func (WalletModel) TableName() string { return "wallets" }

func (model *WalletModel) BeforeCreate(tx *gorm.DB) error {
	if model.WalletID == "" {
		model.WalletID = uuid.NewString()
	}
	return nil
}

// WalletTransactionModel mirrors the wallet_transactions table.
type WalletTransactionModel struct {
	TransactionID  string          `gorm:"type:uuid;primaryKey"`
	WalletID       string          `gorm:"type:uuid;not null;index:idx_wallet_transactions_wallet_created,priority:1"`
	Type           string          `gorm:"not null"`
	Status         string          `gorm:"not null"`
	Amount         decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	ReferenceID    string          `gorm:"not null;index:idx_wallet_transactions_reference"`
	ReferenceImage *string
	AdminNote      *string
	CreatedAt      time.Time `gorm:"not null;index:idx_wallet_transactions_wallet_created,priority:2"`
	UpdatedAt      time.Time `gorm:"not null"`
}

func (WalletTransactionModel) TableName() string { return "wallet_transactions" }

func (model *WalletTransactionModel) BeforeCreate(tx *gorm.DB) error {
	if model.TransactionID == "" {
		model.TransactionID = uuid.NewString()
	}
	return nil
}

// BookingModel mirrors the bookings table.
type BookingModel struct {
	ID                   string          `gorm:"type:uuid;primaryKey"`
	TeacherID            string          `gorm:"not null;index"`
	ParentID             string          `gorm:"not null;index"`
	StudentID            string          `gorm:"not null"`
	SubjectID            string          `gorm:"not null"`
	StartTime            time.Time       `gorm:"not null"`
	EndTime              time.Time       `gorm:"not null"`
	Price                decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	CommissionRate       decimal.Decimal `gorm:"type:numeric(5,4);not null"`
	Status               string          `gorm:"not null;index:idx_bookings_status_created,priority:1;index:idx_bookings_status_deadline,priority:1"`
	MeetingLink          *string
	CancelReason         *string
	ConfirmationDeadline *time.Time `gorm:"index:idx_bookings_status_deadline,priority:2"`
	CreatedAt            time.Time  `gorm:"not null;index:idx_bookings_status_created,priority:2"`
	UpdatedAt            time.Time  `gorm:"not null"`
}

func (BookingModel) TableName() string { return "bookings" }

func (model *BookingModel) BeforeCreate(tx *gorm.DB) error {
	if model.ID == "" {
		model.ID = uuid.NewString()
	}
	return nil
}

// OutboxModel mirrors the notification_outbox table.
type OutboxModel struct {
	OutboxID    string         `gorm:"type:uuid;primaryKey"`
	Recipient   string         `gorm:"not null"`
	Subject     string         `gorm:"not null"`
	Template    string         `gorm:"not null"`
	Payload     datatypes.JSON `gorm:"not null"`
	Status      string         `gorm:"not null;index:idx_outbox_due,priority:1"`
	Attempts    int            `gorm:"not null;default:0"`
	NextRetryAt *time.Time     `gorm:"index:idx_outbox_due,priority:2"`
	LastError   *string
	SentAt      *time.Time
	CreatedAt   time.Time `gorm:"not null;index:idx_outbox_due,priority:3"`
	UpdatedAt   time.Time `gorm:"not null"`
}

func (OutboxModel) TableName() string { return "notification_outbox" }

func (model *OutboxModel) BeforeCreate(tx *gorm.DB) error {
	if model.OutboxID == "" {
		model.OutboxID = uuid.NewString()
	}
	return nil
}

// UserModel is the contact directory used for notification recipients.
type UserModel struct {
	UserID    string `gorm:"primaryKey"`
	Email     string `gorm:"not null"`
	FullName  string `gorm:"not null"`
	Role      string `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (UserModel) TableName() string { return "users" }

// StudentModel links a student to the parent who books for them.
type StudentModel struct {
	StudentID string `gorm:"primaryKey"`
	ParentID  string `gorm:"not null;index"`
	FullName  string `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (StudentModel) TableName() string { return "students" }

// TeacherSubjectModel is one catalog offering.
type TeacherSubjectModel struct {
	TeacherID  string          `gorm:"primaryKey"`
	SubjectID  string          `gorm:"primaryKey"`
	HourlyRate decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (TeacherSubjectModel) TableName() string { return "teacher_subjects" }

// PlatformSettingModel stores system-wide key/value settings.
type PlatformSettingModel struct {
	Key       string `gorm:"primaryKey"`
	Value     string `gorm:"not null"`
	UpdatedAt time.Time
}

func (PlatformSettingModel) TableName() string { return "platform_settings" }

// Models lists every table managed by the store, in migration order.
func Models() []interface{} {
	return []interface{}{
		&WalletModel{},
		&WalletTransactionModel{},
		&BookingModel{},
		&OutboxModel{},
		&UserModel{},
		&StudentModel{},
		&TeacherSubjectModel{},
		&PlatformSettingModel{},
	}
}
