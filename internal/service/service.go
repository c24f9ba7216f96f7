// Package service реализует бизнес-логику монетного реестра picopai.
package service

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/picopai-system/internal/model"
	"github.com/mmeshcher/picopai-system/internal/repository"
	"github.com/mmeshcher/picopai-system/internal/validation"
)

// ErrInvalidAmount возвращается при неположительной сумме, цене или количестве.
var (
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrUnknownPriceTier возвращается, если тариф пополнения отсутствует в таблице.
	ErrUnknownPriceTier = errors.New("unknown price tier")
	// ErrInvalidEmail возвращается при некорректном email.
	ErrInvalidEmail = errors.New("invalid email")
	// ErrInvalidRole возвращается при неизвестной роли.
	ErrInvalidRole = errors.New("invalid role")
	// ErrForbidden возвращается, когда вызывающий не владеет затрагиваемым объектом.
	ErrForbidden = errors.New("caller does not own this resource")
)

// Таблица тарифов пополнения: цена в долларах → количество монет.
var priceTiers = map[int64]int64{
	1:  10,
	9:  100,
	19: 500,
	39: 1000,
}

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error

	CreateUser(ctx context.Context, email, name, photoURL string, role model.Role) (int64, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	ListUsersByRole(ctx context.Context, role model.Role) ([]model.User, error)
	UpdateUserRole(ctx context.Context, email string, role model.Role) error
	DeleteUser(ctx context.Context, email string) error
	GetBalance(ctx context.Context, email string) (int64, error)

	CreateTask(ctx context.Context, t *model.Task) (int64, error)
	GetTask(ctx context.Context, id int64) (*model.Task, error)
	ListTasks(ctx context.Context) ([]model.Task, error)
	ListTasksByCreator(ctx context.Context, creatorEmail string) ([]model.Task, error)
	UpdateTaskDetails(ctx context.Context, id int64, title, details, submissionInfo string) error
	DeleteTask(ctx context.Context, id int64) error

	CreateSubmission(ctx context.Context, taskID int64, workerEmail string) (*model.Submission, error)
	GetSubmission(ctx context.Context, id int64) (*model.Submission, error)
	ListSubmissionsByCreator(ctx context.Context, creatorEmail string) ([]model.Submission, error)
	ListSubmissionsByWorker(ctx context.Context, workerEmail string) ([]model.Submission, error)
	ApproveSubmission(ctx context.Context, id int64) (*model.Submission, error)
	RejectSubmission(ctx context.Context, id int64, restoreCapacity bool) (*model.Submission, error)

	CreateWithdrawal(ctx context.Context, input repository.CreateWithdrawalInput) (*model.Withdrawal, error)
	GetWithdrawal(ctx context.Context, id int64) (*model.Withdrawal, error)
	SettleWithdrawal(ctx context.Context, id int64) (*model.Withdrawal, error)
	CancelWithdrawal(ctx context.Context, id int64) error
	ListWithdrawals(ctx context.Context) ([]model.Withdrawal, error)
	ListWithdrawalsByWorker(ctx context.Context, workerEmail string) ([]model.Withdrawal, error)

	TopUp(ctx context.Context, payerEmail string, coins int64, price decimal.Decimal, intentID string) (*model.Payment, error)
	ListPaymentsByPayer(ctx context.Context, payerEmail string) ([]model.Payment, error)

	CreateNotification(ctx context.Context, recipient, message string) error
	ListNotifications(ctx context.Context, recipient string) ([]model.Notification, error)
	MarkNotificationRead(ctx context.Context, id int64) error

	AdminTotals(ctx context.Context) (*model.AdminTotals, error)
	WorkerStats(ctx context.Context, email string) (*model.WorkerStats, error)
	CreatorStats(ctx context.Context, email string) (*model.CreatorStats, error)
	TopWorkers(ctx context.Context, limit int) ([]model.TopWorker, error)
}

// CaptureVerifier подтверждает, что внешний платёж действительно захвачен.
// Пополнение монет выполняется только после такого подтверждения.
type CaptureVerifier interface {
	VerifyCapture(ctx context.Context, intentID string) error
}

// Notifier доставляет уведомления получателям. Доставка выполняется по
// принципу best-effort: её сбой не откатывает породившую её операцию.
type Notifier interface {
	Notify(ctx context.Context, recipient, message string)
}

// Options содержит параметры поведения сервиса.
type Options struct {
	// RestoreCapacityOnReject возвращает заданию место при отклонении работы.
	RestoreCapacityOnReject bool
}

// Service содержит бизнес-логику монетного реестра.
type Service struct {
	repo     Repository
	gateway  CaptureVerifier
	notifier Notifier
	opts     Options
}

// NewService создаёт новый сервис с указанным репозиторием, платёжным шлюзом
// и каналом уведомлений. gateway и notifier могут быть nil.
func NewService(repo Repository, gateway CaptureVerifier, notifier Notifier, opts Options) *Service {
	return &Service{
		repo:     repo,
		gateway:  gateway,
		notifier: notifier,
		opts:     opts,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

func (s *Service) notify(ctx context.Context, recipient, message string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, recipient, message)
}

func validRole(role model.Role) bool {
	switch role {
	case model.RoleCreator, model.RoleWorker, model.RoleAdmin:
		return true
	}
	return false
}

// RegisterUser регистрирует нового пользователя. Пустая роль означает worker.
func (s *Service) RegisterUser(ctx context.Context, email, name, photoURL string, role model.Role) (int64, error) {
	if !validation.IsValidEmail(email) {
		return 0, ErrInvalidEmail
	}

	if role == "" {
		role = model.RoleWorker
	}
	if !validRole(role) {
		return 0, ErrInvalidRole
	}

	return s.repo.CreateUser(ctx, email, name, photoURL, role)
}

// GetUser возвращает пользователя по email.
func (s *Service) GetUser(ctx context.Context, email string) (*model.User, error) {
	return s.repo.GetUserByEmail(ctx, email)
}

// ListWorkers возвращает всех исполнителей площадки.
func (s *Service) ListWorkers(ctx context.Context) ([]model.User, error) {
	return s.repo.ListUsersByRole(ctx, model.RoleWorker)
}

// GetBalance возвращает баланс монет пользователя.
func (s *Service) GetBalance(ctx context.Context, email string) (int64, error) {
	return s.repo.GetBalance(ctx, email)
}

// UpdateUserRole меняет роль пользователя.
func (s *Service) UpdateUserRole(ctx context.Context, email string, role model.Role) error {
	if !validRole(role) {
		return ErrInvalidRole
	}
	return s.repo.UpdateUserRole(ctx, email, role)
}

// DeleteUser удаляет пользователя.
func (s *Service) DeleteUser(ctx context.Context, email string) error {
	return s.repo.DeleteUser(ctx, email)
}

// CreateTask создаёт задание, удержав с создателя payable×quantity монет.
func (s *Service) CreateTask(ctx context.Context, creatorEmail, title, details, submissionInfo string, payable, quantity int64) (*model.Task, error) {
	if payable <= 0 || quantity <= 0 {
		return nil, ErrInvalidAmount
	}
	// Сумма удержания payable×quantity не должна переполнять int64.
	if payable > math.MaxInt64/quantity {
		return nil, ErrInvalidAmount
	}

	t := &model.Task{
		CreatorEmail:   creatorEmail,
		Title:          title,
		Details:        details,
		SubmissionInfo: submissionInfo,
		Payable:        payable,
		Remaining:      quantity,
	}

	id, err := s.repo.CreateTask(ctx, t)
	if err != nil {
		return nil, err
	}
	t.ID = id

	return t, nil
}

// GetTask возвращает задание по идентификатору.
func (s *Service) GetTask(ctx context.Context, id int64) (*model.Task, error) {
	return s.repo.GetTask(ctx, id)
}

// ListTasks возвращает все задания.
func (s *Service) ListTasks(ctx context.Context) ([]model.Task, error) {
	return s.repo.ListTasks(ctx)
}

// ListTasksByCreator возвращает задания создателя.
func (s *Service) ListTasksByCreator(ctx context.Context, creatorEmail string) ([]model.Task, error) {
	return s.repo.ListTasksByCreator(ctx, creatorEmail)
}

// isOwnerOrAdmin проверяет, что caller владеет объектом либо является оператором.
func (s *Service) isOwnerOrAdmin(ctx context.Context, caller, owner string) error {
	if caller == owner {
		return nil
	}

	u, err := s.repo.GetUserByEmail(ctx, caller)
	if err != nil {
		return err
	}
	if u.Role != model.RoleAdmin {
		return ErrForbidden
	}

	return nil
}

// UpdateTaskDetails меняет описательные поля задания. Доступно только его создателю.
func (s *Service) UpdateTaskDetails(ctx context.Context, caller string, id int64, title, details, submissionInfo string) error {
	t, err := s.repo.GetTask(ctx, id)
	if err != nil {
		return err
	}

	if err := s.isOwnerOrAdmin(ctx, caller, t.CreatorEmail); err != nil {
		return err
	}

	return s.repo.UpdateTaskDetails(ctx, id, title, details, submissionInfo)
}

// DeleteTask удаляет задание, вернув создателю неразданный остаток монет.
func (s *Service) DeleteTask(ctx context.Context, caller string, id int64) error {
	t, err := s.repo.GetTask(ctx, id)
	if err != nil {
		return err
	}

	if err := s.isOwnerOrAdmin(ctx, caller, t.CreatorEmail); err != nil {
		return err
	}

	return s.repo.DeleteTask(ctx, id)
}

// CreateSubmission сдаёт работу по заданию и уведомляет создателя.
func (s *Service) CreateSubmission(ctx context.Context, workerEmail string, taskID int64) (*model.Submission, error) {
	sub, err := s.repo.CreateSubmission(ctx, taskID, workerEmail)
	if err != nil {
		return nil, err
	}

	s.notify(ctx, sub.CreatorEmail,
		fmt.Sprintf("New submission for task %q from %s", sub.TaskTitle, workerEmail))

	return sub, nil
}

// GetSubmission возвращает сданную работу.
func (s *Service) GetSubmission(ctx context.Context, id int64) (*model.Submission, error) {
	return s.repo.GetSubmission(ctx, id)
}

// ListSubmissionsByCreator возвращает работы по заданиям создателя.
func (s *Service) ListSubmissionsByCreator(ctx context.Context, creatorEmail string) ([]model.Submission, error) {
	return s.repo.ListSubmissionsByCreator(ctx, creatorEmail)
}

// ListSubmissionsByWorker возвращает работы исполнителя.
func (s *Service) ListSubmissionsByWorker(ctx context.Context, workerEmail string) ([]model.Submission, error) {
	return s.repo.ListSubmissionsByWorker(ctx, workerEmail)
}

// ApproveSubmission одобряет работу: исполнитель получает payable монет и
// уведомление. Одобрить работу может только создатель её задания.
func (s *Service) ApproveSubmission(ctx context.Context, caller string, id int64) (*model.Submission, error) {
	sub, err := s.repo.GetSubmission(ctx, id)
	if err != nil {
		return nil, err
	}

	if caller != sub.CreatorEmail {
		return nil, ErrForbidden
	}

	approved, err := s.repo.ApproveSubmission(ctx, id)
	if err != nil {
		return nil, err
	}

	s.notify(ctx, approved.WorkerEmail,
		fmt.Sprintf("Your submission for task %q was approved: %d coins credited", approved.TaskTitle, approved.Payable))

	return approved, nil
}

// RejectSubmission отклоняет работу и уведомляет исполнителя. Монеты не
// движутся; возврат места в задании управляется опцией RestoreCapacityOnReject.
func (s *Service) RejectSubmission(ctx context.Context, caller string, id int64) (*model.Submission, error) {
	sub, err := s.repo.GetSubmission(ctx, id)
	if err != nil {
		return nil, err
	}

	if caller != sub.CreatorEmail {
		return nil, ErrForbidden
	}

	rejected, err := s.repo.RejectSubmission(ctx, id, s.opts.RestoreCapacityOnReject)
	if err != nil {
		return nil, err
	}

	s.notify(ctx, rejected.WorkerEmail,
		fmt.Sprintf("Your submission for task %q was rejected", rejected.TaskTitle))

	return rejected, nil
}

// RequestWithdrawal создаёт заявку на вывод монет и уведомляет операторов.
// Баланс исполнителя на этом шаге не меняется.
func (s *Service) RequestWithdrawal(ctx context.Context, workerEmail string, coinAmount int64, cashAmount decimal.Decimal, idempotencyKey string) (*model.Withdrawal, error) {
	if coinAmount <= 0 || !cashAmount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	if idempotencyKey == "" {
		idempotencyKey = uuid.NewString()
	} else if _, err := uuid.Parse(idempotencyKey); err != nil {
		return nil, fmt.Errorf("parse idempotency key: %w", err)
	}

	w, err := s.repo.CreateWithdrawal(ctx, repository.CreateWithdrawalInput{
		WorkerEmail:    workerEmail,
		CoinAmount:     coinAmount,
		CashAmount:     cashAmount,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, model.AdminRecipient,
		fmt.Sprintf("Withdrawal request from %s: %d coins ($%s)", workerEmail, coinAmount, cashAmount.StringFixed(2)))

	return w, nil
}

// SettleWithdrawal выплачивает заявку: монеты списываются с исполнителя,
// заявка помечается success, исполнитель получает уведомление.
func (s *Service) SettleWithdrawal(ctx context.Context, id int64) (*model.Withdrawal, error) {
	w, err := s.repo.SettleWithdrawal(ctx, id)
	if err != nil {
		return nil, err
	}

	s.notify(ctx, w.WorkerEmail,
		fmt.Sprintf("Withdrawal of %d coins completed: $%s paid out", w.CoinAmount, w.CashAmount.StringFixed(2)))

	return w, nil
}

// CancelWithdrawal отменяет невыплаченную заявку. Доступно её владельцу.
func (s *Service) CancelWithdrawal(ctx context.Context, caller string, id int64) error {
	w, err := s.repo.GetWithdrawal(ctx, id)
	if err != nil {
		return err
	}

	if err := s.isOwnerOrAdmin(ctx, caller, w.WorkerEmail); err != nil {
		return err
	}

	return s.repo.CancelWithdrawal(ctx, id)
}

// ListWithdrawals возвращает все заявки на вывод.
func (s *Service) ListWithdrawals(ctx context.Context) ([]model.Withdrawal, error) {
	return s.repo.ListWithdrawals(ctx)
}

// ListWithdrawalsByWorker возвращает заявки исполнителя.
func (s *Service) ListWithdrawalsByWorker(ctx context.Context, workerEmail string) ([]model.Withdrawal, error) {
	return s.repo.ListWithdrawalsByWorker(ctx, workerEmail)
}

// TopUp зачисляет плательщику монеты по тарифу после подтверждения захвата
// платежа внешним шлюзом. Неизвестный тариф — ошибка, а не нулевое зачисление.
func (s *Service) TopUp(ctx context.Context, payerEmail string, priceTier int64, intentID string) (*model.Payment, error) {
	coins, ok := priceTiers[priceTier]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPriceTier, priceTier)
	}

	if s.gateway != nil {
		if err := s.gateway.VerifyCapture(ctx, intentID); err != nil {
			return nil, fmt.Errorf("verify capture: %w", err)
		}
	}

	return s.repo.TopUp(ctx, payerEmail, coins, decimal.NewFromInt(priceTier), intentID)
}

// ListPaymentsByPayer возвращает историю пополнений пользователя.
func (s *Service) ListPaymentsByPayer(ctx context.Context, payerEmail string) ([]model.Payment, error) {
	return s.repo.ListPaymentsByPayer(ctx, payerEmail)
}

// ListNotifications возвращает уведомления получателя.
func (s *Service) ListNotifications(ctx context.Context, recipient string) ([]model.Notification, error) {
	return s.repo.ListNotifications(ctx, recipient)
}

// MarkNotificationRead помечает уведомление прочитанным.
func (s *Service) MarkNotificationRead(ctx context.Context, id int64) error {
	return s.repo.MarkNotificationRead(ctx, id)
}

// AdminTotals возвращает сводку по площадке.
func (s *Service) AdminTotals(ctx context.Context) (*model.AdminTotals, error) {
	return s.repo.AdminTotals(ctx)
}

// WorkerStats возвращает сводку по исполнителю.
func (s *Service) WorkerStats(ctx context.Context, email string) (*model.WorkerStats, error) {
	return s.repo.WorkerStats(ctx, email)
}

// CreatorStats возвращает сводку по создателю.
func (s *Service) CreatorStats(ctx context.Context, email string) (*model.CreatorStats, error) {
	return s.repo.CreatorStats(ctx, email)
}

// TopWorkers возвращает шесть исполнителей с наибольшим балансом.
func (s *Service) TopWorkers(ctx context.Context) ([]model.TopWorker, error) {
	return s.repo.TopWorkers(ctx, 6)
}
