// Package model содержит доменные сущности сервиса picopai.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Role описывает роль пользователя на площадке.
type Role string

const (
	RoleCreator Role = "creator"
	RoleWorker  Role = "worker"
	RoleAdmin   Role = "admin"
)

// AdminRecipient — зарезервированный получатель уведомлений для операторов.
const AdminRecipient = "admin"

// User представляет учётную запись с балансом монет.
type User struct {
	ID             int64
	Email          string
	Name           string
	PhotoURL       string
	Role           Role
	Coin           int64
	CompletedTasks int64
	CreatedAt      time.Time
}

// Task описывает оплачиваемое задание. Монеты за всё задание списываются
// со счёта создателя в момент создания и удерживаются до одобрений или удаления.
type Task struct {
	ID             int64
	CreatorEmail   string
	Title          string
	Details        string
	SubmissionInfo string
	Payable        int64
	Remaining      int64
	CreatedAt      time.Time
}

// SubmissionStatus описывает статус сданной работы.
type SubmissionStatus string

const (
	SubmissionStatusPending  SubmissionStatus = "pending"
	SubmissionStatusApproved SubmissionStatus = "approved"
	SubmissionStatusRejected SubmissionStatus = "rejected"
)

// Submission описывает работу, сданную исполнителем по заданию.
// Payable копируется из задания в момент сдачи.
type Submission struct {
	ID           int64
	TaskID       int64
	TaskTitle    string
	WorkerEmail  string
	CreatorEmail string
	Payable      int64
	Status       SubmissionStatus
	CreatedAt    time.Time
	DecidedAt    *time.Time
}

// WithdrawalStatus описывает статус заявки на вывод средств.
type WithdrawalStatus string

const (
	WithdrawalStatusPending WithdrawalStatus = "pending"
	WithdrawalStatusSuccess WithdrawalStatus = "success"
)

// Withdrawal описывает заявку исполнителя на вывод монет в деньги.
// Баланс списывается не при создании заявки, а при её выплате оператором.
type Withdrawal struct {
	ID             int64
	WorkerEmail    string
	CoinAmount     int64
	CashAmount     decimal.Decimal
	Status         WithdrawalStatus
	IdempotencyKey string
	CreatedAt      time.Time
	SettledAt      *time.Time
}

// Payment описывает факт пополнения баланса монет за реальные деньги.
type Payment struct {
	ID         int64
	PayerEmail string
	Price      decimal.Decimal
	Coins      int64
	IntentID   string
	CreatedAt  time.Time
}

// NotificationStatus описывает статус уведомления.
type NotificationStatus string

const (
	NotificationStatusUnread NotificationStatus = "unread"
	NotificationStatusRead   NotificationStatus = "read"
)

// Notification описывает уведомление пользователю или операторам.
type Notification struct {
	ID        int64
	Recipient string
	Message   string
	Status    NotificationStatus
	CreatedAt time.Time
}

// AdminTotals содержит сводку по всей площадке для панели оператора.
type AdminTotals struct {
	TotalUsers   int64           `json:"total_users"`
	TotalCoin    int64           `json:"total_coin"`
	TotalPayment decimal.Decimal `json:"total_payment"`
}

// WorkerStats содержит сводку по исполнителю.
type WorkerStats struct {
	AvailableCoin int64 `json:"available_coin"`
	Submissions   int64 `json:"submissions"`
	TotalEarning  int64 `json:"total_earning"`
}

// CreatorStats содержит сводку по создателю заданий.
type CreatorStats struct {
	AvailableCoin int64           `json:"available_coin"`
	PendingSlots  int64           `json:"pending_slots"`
	TotalPaid     decimal.Decimal `json:"total_paid"`
}

// TopWorker описывает исполнителя в рейтинге по количеству монет.
type TopWorker struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	PhotoURL string `json:"photo_url"`
	Coin     int64  `json:"coin"`
}
