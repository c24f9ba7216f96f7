// Package handler содержит HTTP-обработчики API сервиса picopai.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/picopai-system/internal/middleware"
	"github.com/mmeshcher/picopai-system/internal/model"
	"github.com/mmeshcher/picopai-system/internal/repository"
	"github.com/mmeshcher/picopai-system/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, email, name, photoURL string, role model.Role) (int64, error)
	GetUser(ctx context.Context, email string) (*model.User, error)
	ListWorkers(ctx context.Context) ([]model.User, error)
	GetBalance(ctx context.Context, email string) (int64, error)
	UpdateUserRole(ctx context.Context, email string, role model.Role) error
	DeleteUser(ctx context.Context, email string) error

	CreateTask(ctx context.Context, creatorEmail, title, details, submissionInfo string, payable, quantity int64) (*model.Task, error)
	GetTask(ctx context.Context, id int64) (*model.Task, error)
	ListTasks(ctx context.Context) ([]model.Task, error)
	ListTasksByCreator(ctx context.Context, creatorEmail string) ([]model.Task, error)
	UpdateTaskDetails(ctx context.Context, caller string, id int64, title, details, submissionInfo string) error
	DeleteTask(ctx context.Context, caller string, id int64) error

	CreateSubmission(ctx context.Context, workerEmail string, taskID int64) (*model.Submission, error)
	ListSubmissionsByCreator(ctx context.Context, creatorEmail string) ([]model.Submission, error)
	ListSubmissionsByWorker(ctx context.Context, workerEmail string) ([]model.Submission, error)
	ApproveSubmission(ctx context.Context, caller string, id int64) (*model.Submission, error)
	RejectSubmission(ctx context.Context, caller string, id int64) (*model.Submission, error)

	RequestWithdrawal(ctx context.Context, workerEmail string, coinAmount int64, cashAmount decimal.Decimal, idempotencyKey string) (*model.Withdrawal, error)
	SettleWithdrawal(ctx context.Context, id int64) (*model.Withdrawal, error)
	CancelWithdrawal(ctx context.Context, caller string, id int64) error
	ListWithdrawals(ctx context.Context) ([]model.Withdrawal, error)
	ListWithdrawalsByWorker(ctx context.Context, workerEmail string) ([]model.Withdrawal, error)

	TopUp(ctx context.Context, payerEmail string, priceTier int64, intentID string) (*model.Payment, error)
	ListPaymentsByPayer(ctx context.Context, payerEmail string) ([]model.Payment, error)

	ListNotifications(ctx context.Context, recipient string) ([]model.Notification, error)
	MarkNotificationRead(ctx context.Context, id int64) error

	AdminTotals(ctx context.Context) (*model.AdminTotals, error)
	WorkerStats(ctx context.Context, email string) (*model.WorkerStats, error)
	CreatorStats(ctx context.Context, email string) (*model.CreatorStats, error)
	TopWorkers(ctx context.Context) ([]model.TopWorker, error)
}

// Handler реализует HTTP-обработчики API сервиса picopai.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

// respondError транслирует доменные ошибки в HTTP-статусы.
func (h *Handler) respondError(w http.ResponseWriter, err error, logMsg string, fields ...zap.Field) {
	switch {
	case errors.Is(err, repository.ErrUserNotFound),
		errors.Is(err, repository.ErrTaskNotFound),
		errors.Is(err, repository.ErrSubmissionNotFound),
		errors.Is(err, repository.ErrWithdrawalNotFound),
		errors.Is(err, repository.ErrNotificationNotFound):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	case errors.Is(err, repository.ErrUserExists),
		errors.Is(err, repository.ErrSubmissionDecided),
		errors.Is(err, repository.ErrAlreadySettled),
		errors.Is(err, repository.ErrCapacityExhausted),
		errors.Is(err, repository.ErrIdempotencyConflict):
		http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
	case errors.Is(err, repository.ErrInsufficientFunds):
		http.Error(w, http.StatusText(http.StatusPaymentRequired), http.StatusPaymentRequired)
	case errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrInvalidEmail),
		errors.Is(err, service.ErrInvalidRole),
		errors.Is(err, repository.ErrAmountOverflow):
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
	case errors.Is(err, service.ErrUnknownPriceTier):
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
	case errors.Is(err, service.ErrForbidden):
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
	default:
		h.logger.Error(logMsg, append(fields, zap.Error(err))...)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

// writeJSONStatus выставляет Content-Type до записи статуса: после
// WriteHeader заголовки уже отправлены.
func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func identity(w http.ResponseWriter, r *http.Request) (string, bool) {
	email, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return "", false
	}
	return email, true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// adminOnly пропускает дальше только вызывающих с ролью admin.
func (h *Handler) adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		email, ok := identity(w, r)
		if !ok {
			return
		}

		u, err := h.service.GetUser(r.Context(), email)
		if err != nil {
			h.respondError(w, err, "admin check error", zap.String("email", email))
			return
		}

		if u.Role != model.RoleAdmin {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type registerRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	PhotoURL string `json:"photo_url"`
	Role     string `json:"role"`
}

// Register обрабатывает регистрацию нового пользователя и выдаёт auth cookie.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Email == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	id, err := h.service.RegisterUser(r.Context(), req.Email, req.Name, req.PhotoURL, model.Role(req.Role))
	if err != nil {
		h.respondError(w, err, "register user error", zap.String("email", req.Email))
		return
	}

	h.authMiddleware.SetAuthCookie(w, req.Email)
	writeJSONStatus(w, http.StatusCreated, map[string]int64{"id": id})
}

type userResponse struct {
	Email          string `json:"email"`
	Name           string `json:"name"`
	PhotoURL       string `json:"photo_url"`
	Role           string `json:"role"`
	Coin           int64  `json:"coin"`
	CompletedTasks int64  `json:"completed_tasks"`
	CreatedAt      string `json:"created_at"`
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		Email:          u.Email,
		Name:           u.Name,
		PhotoURL:       u.PhotoURL,
		Role:           string(u.Role),
		Coin:           u.Coin,
		CompletedTasks: u.CompletedTasks,
		CreatedAt:      u.CreatedAt.Format(time.RFC3339),
	}
}

// GetUser возвращает пользователя по email из пути.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")

	u, err := h.service.GetUser(r.Context(), email)
	if err != nil {
		h.respondError(w, err, "get user error", zap.String("email", email))
		return
	}

	writeJSON(w, toUserResponse(u))
}

// GetBalance возвращает баланс монет пользователя.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")

	coin, err := h.service.GetBalance(r.Context(), email)
	if err != nil {
		h.respondError(w, err, "get balance error", zap.String("email", email))
		return
	}

	writeJSON(w, map[string]int64{"coin": coin})
}

// ListWorkers возвращает всех исполнителей площадки. Только для операторов.
func (h *Handler) ListWorkers(w http.ResponseWriter, r *http.Request) {
	workers, err := h.service.ListWorkers(r.Context())
	if err != nil {
		h.respondError(w, err, "list workers error")
		return
	}

	if len(workers) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]userResponse, 0, len(workers))
	for i := range workers {
		resp = append(resp, toUserResponse(&workers[i]))
	}
	writeJSON(w, resp)
}

type roleRequest struct {
	Role string `json:"role"`
}

// UpdateRole меняет роль пользователя. Только для операторов.
func (h *Handler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")

	var req roleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.UpdateUserRole(r.Context(), email, model.Role(req.Role)); err != nil {
		h.respondError(w, err, "update role error", zap.String("email", email))
		return
	}

	w.WriteHeader(http.StatusOK)
}

// DeleteUser удаляет пользователя. Только для операторов.
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")

	if err := h.service.DeleteUser(r.Context(), email); err != nil {
		h.respondError(w, err, "delete user error", zap.String("email", email))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type createTaskRequest struct {
	Title          string `json:"title"`
	Details        string `json:"details"`
	SubmissionInfo string `json:"submission_info"`
	Payable        int64  `json:"payable"`
	Quantity       int64  `json:"quantity"`
}

type taskResponse struct {
	ID             int64  `json:"id"`
	CreatorEmail   string `json:"creator_email"`
	Title          string `json:"title"`
	Details        string `json:"details"`
	SubmissionInfo string `json:"submission_info"`
	Payable        int64  `json:"payable"`
	Remaining      int64  `json:"remaining"`
	CreatedAt      string `json:"created_at"`
}

func toTaskResponse(t *model.Task) taskResponse {
	return taskResponse{
		ID:             t.ID,
		CreatorEmail:   t.CreatorEmail,
		Title:          t.Title,
		Details:        t.Details,
		SubmissionInfo: t.SubmissionInfo,
		Payable:        t.Payable,
		Remaining:      t.Remaining,
		CreatedAt:      t.CreatedAt.Format(time.RFC3339),
	}
}

// CreateTask создаёт задание от имени текущего пользователя.
func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	email, ok := identity(w, r)
	if !ok {
		return
	}

	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Title == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	t, err := h.service.CreateTask(r.Context(), email, req.Title, req.Details, req.SubmissionInfo, req.Payable, req.Quantity)
	if err != nil {
		h.respondError(w, err, "create task error", zap.String("creator", email))
		return
	}

	writeJSONStatus(w, http.StatusCreated, toTaskResponse(t))
}

// ListTasks возвращает задания: все или отфильтрованные по создателю.
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	var (
		tasks []model.Task
		err   error
	)

	if creator := r.URL.Query().Get("creator"); creator != "" {
		tasks, err = h.service.ListTasksByCreator(r.Context(), creator)
	} else {
		tasks, err = h.service.ListTasks(r.Context())
	}
	if err != nil {
		h.respondError(w, err, "list tasks error")
		return
	}

	if len(tasks) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]taskResponse, 0, len(tasks))
	for i := range tasks {
		resp = append(resp, toTaskResponse(&tasks[i]))
	}
	writeJSON(w, resp)
}

// GetTask возвращает задание по идентификатору.
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	t, err := h.service.GetTask(r.Context(), id)
	if err != nil {
		h.respondError(w, err, "get task error", zap.Int64("taskID", id))
		return
	}

	writeJSON(w, toTaskResponse(t))
}

type updateTaskRequest struct {
	Title          string `json:"title"`
	Details        string `json:"details"`
	SubmissionInfo string `json:"submission_info"`
}

// UpdateTask меняет описательные поля задания.
func (h *Handler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	email, ok := identity(w, r)
	if !ok {
		return
	}

	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req updateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Title == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.UpdateTaskDetails(r.Context(), email, id, req.Title, req.Details, req.SubmissionInfo); err != nil {
		h.respondError(w, err, "update task error", zap.Int64("taskID", id))
		return
	}

	w.WriteHeader(http.StatusOK)
}

// DeleteTask удаляет задание и возвращает создателю неразданный остаток.
func (h *Handler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	email, ok := identity(w, r)
	if !ok {
		return
	}

	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteTask(r.Context(), email, id); err != nil {
		h.respondError(w, err, "delete task error", zap.Int64("taskID", id))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type createSubmissionRequest struct {
	TaskID int64 `json:"task_id"`
}

type submissionResponse struct {
	ID           int64  `json:"id"`
	TaskID       int64  `json:"task_id"`
	TaskTitle    string `json:"task_title"`
	WorkerEmail  string `json:"worker_email"`
	CreatorEmail string `json:"creator_email"`
	Payable      int64  `json:"payable"`
	Status       string `json:"status"`
	CreatedAt    string `json:"created_at"`
}

func toSubmissionResponse(s *model.Submission) submissionResponse {
	return submissionResponse{
		ID:           s.ID,
		TaskID:       s.TaskID,
		TaskTitle:    s.TaskTitle,
		WorkerEmail:  s.WorkerEmail,
		CreatorEmail: s.CreatorEmail,
		Payable:      s.Payable,
		Status:       string(s.Status),
		CreatedAt:    s.CreatedAt.Format(time.RFC3339),
	}
}

// CreateSubmission сдаёт работу по заданию от имени текущего пользователя.
func (h *Handler) CreateSubmission(w http.ResponseWriter, r *http.Request) {
	email, ok := identity(w, r)
	if !ok {
		return
	}

	var req createSubmissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.TaskID <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	sub, err := h.service.CreateSubmission(r.Context(), email, req.TaskID)
	if err != nil {
		h.respondError(w, err, "create submission error", zap.Int64("taskID", req.TaskID), zap.String("worker", email))
		return
	}

	writeJSONStatus(w, http.StatusCreated, toSubmissionResponse(sub))
}

// ListSubmissions возвращает работы: по заданиям текущего пользователя как
// создателя (?role=creator) либо его собственные как исполнителя.
func (h *Handler) ListSubmissions(w http.ResponseWriter, r *http.Request) {
	email, ok := identity(w, r)
	if !ok {
		return
	}

	var (
		subs []model.Submission
		err  error
	)

	if r.URL.Query().Get("role") == "creator" {
		subs, err = h.service.ListSubmissionsByCreator(r.Context(), email)
	} else {
		subs, err = h.service.ListSubmissionsByWorker(r.Context(), email)
	}
	if err != nil {
		h.respondError(w, err, "list submissions error", zap.String("email", email))
		return
	}

	if len(subs) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]submissionResponse, 0, len(subs))
	for i := range subs {
		resp = append(resp, toSubmissionResponse(&subs[i]))
	}
	writeJSON(w, resp)
}

// ApproveSubmission одобряет работу от имени создателя задания.
func (h *Handler) ApproveSubmission(w http.ResponseWriter, r *http.Request) {
	email, ok := identity(w, r)
	if !ok {
		return
	}

	id, ok := pathID(w, r)
	if !ok {
		return
	}

	sub, err := h.service.ApproveSubmission(r.Context(), email, id)
	if err != nil {
		h.respondError(w, err, "approve submission error", zap.Int64("submissionID", id))
		return
	}

	writeJSON(w, toSubmissionResponse(sub))
}

// RejectSubmission отклоняет работу от имени создателя задания.
func (h *Handler) RejectSubmission(w http.ResponseWriter, r *http.Request) {
	email, ok := identity(w, r)
	if !ok {
		return
	}

	id, ok := pathID(w, r)
	if !ok {
		return
	}

	sub, err := h.service.RejectSubmission(r.Context(), email, id)
	if err != nil {
		h.respondError(w, err, "reject submission error", zap.Int64("submissionID", id))
		return
	}

	writeJSON(w, toSubmissionResponse(sub))
}

type withdrawalRequest struct {
	CoinAmount     int64           `json:"coin_amount"`
	CashAmount     decimal.Decimal `json:"cash_amount"`
	IdempotencyKey string          `json:"idempotency_key"`
}

type withdrawalResponse struct {
	ID          int64  `json:"id"`
	WorkerEmail string `json:"worker_email"`
	CoinAmount  int64  `json:"coin_amount"`
	CashAmount  string `json:"cash_amount"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
	SettledAt   string `json:"settled_at,omitempty"`
}

func toWithdrawalResponse(w *model.Withdrawal) withdrawalResponse {
	resp := withdrawalResponse{
		ID:          w.ID,
		WorkerEmail: w.WorkerEmail,
		CoinAmount:  w.CoinAmount,
		CashAmount:  w.CashAmount.StringFixed(2),
		Status:      string(w.Status),
		CreatedAt:   w.CreatedAt.Format(time.RFC3339),
	}
	if w.SettledAt != nil {
		resp.SettledAt = w.SettledAt.Format(time.RFC3339)
	}
	return resp
}

// RequestWithdrawal создаёт заявку на вывод монет текущего пользователя.
func (h *Handler) RequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	email, ok := identity(w, r)
	if !ok {
		return
	}

	var req withdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	wd, err := h.service.RequestWithdrawal(r.Context(), email, req.CoinAmount, req.CashAmount, req.IdempotencyKey)
	if err != nil {
		h.respondError(w, err, "request withdrawal error", zap.String("worker", email))
		return
	}

	writeJSONStatus(w, http.StatusCreated, toWithdrawalResponse(wd))
}

// ListWithdrawals возвращает все заявки на вывод. Только для операторов.
func (h *Handler) ListWithdrawals(w http.ResponseWriter, r *http.Request) {
	withdrawals, err := h.service.ListWithdrawals(r.Context())
	if err != nil {
		h.respondError(w, err, "list withdrawals error")
		return
	}

	if len(withdrawals) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]withdrawalResponse, 0, len(withdrawals))
	for i := range withdrawals {
		resp = append(resp, toWithdrawalResponse(&withdrawals[i]))
	}
	writeJSON(w, resp)
}

// ListMyWithdrawals возвращает заявки текущего пользователя.
func (h *Handler) ListMyWithdrawals(w http.ResponseWriter, r *http.Request) {
	email, ok := identity(w, r)
	if !ok {
		return
	}

	withdrawals, err := h.service.ListWithdrawalsByWorker(r.Context(), email)
	if err != nil {
		h.respondError(w, err, "list my withdrawals error", zap.String("worker", email))
		return
	}

	if len(withdrawals) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]withdrawalResponse, 0, len(withdrawals))
	for i := range withdrawals {
		resp = append(resp, toWithdrawalResponse(&withdrawals[i]))
	}
	writeJSON(w, resp)
}

// SettleWithdrawal выплачивает заявку. Только для операторов.
func (h *Handler) SettleWithdrawal(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	wd, err := h.service.SettleWithdrawal(r.Context(), id)
	if err != nil {
		h.respondError(w, err, "settle withdrawal error", zap.Int64("withdrawalID", id))
		return
	}

	writeJSON(w, toWithdrawalResponse(wd))
}

// CancelWithdrawal отменяет невыплаченную заявку текущего пользователя.
func (h *Handler) CancelWithdrawal(w http.ResponseWriter, r *http.Request) {
	email, ok := identity(w, r)
	if !ok {
		return
	}

	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.service.CancelWithdrawal(r.Context(), email, id); err != nil {
		h.respondError(w, err, "cancel withdrawal error", zap.Int64("withdrawalID", id))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type topUpRequest struct {
	PriceTier int64  `json:"price_tier"`
	IntentID  string `json:"intent_id"`
}

type paymentResponse struct {
	ID         int64  `json:"id"`
	PayerEmail string `json:"payer_email"`
	Price      string `json:"price"`
	Coins      int64  `json:"coins"`
	CreatedAt  string `json:"created_at"`
}

func toPaymentResponse(p *model.Payment) paymentResponse {
	return paymentResponse{
		ID:         p.ID,
		PayerEmail: p.PayerEmail,
		Price:      p.Price.StringFixed(2),
		Coins:      p.Coins,
		CreatedAt:  p.CreatedAt.Format(time.RFC3339),
	}
}

// TopUp зачисляет текущему пользователю монеты по оплаченному тарифу.
func (h *Handler) TopUp(w http.ResponseWriter, r *http.Request) {
	email, ok := identity(w, r)
	if !ok {
		return
	}

	var req topUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	p, err := h.service.TopUp(r.Context(), email, req.PriceTier, req.IntentID)
	if err != nil {
		h.respondError(w, err, "top up error", zap.String("payer", email), zap.Int64("tier", req.PriceTier))
		return
	}

	writeJSONStatus(w, http.StatusCreated, toPaymentResponse(p))
}

// ListPayments возвращает историю пополнений текущего пользователя.
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	email, ok := identity(w, r)
	if !ok {
		return
	}

	payments, err := h.service.ListPaymentsByPayer(r.Context(), email)
	if err != nil {
		h.respondError(w, err, "list payments error", zap.String("payer", email))
		return
	}

	if len(payments) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]paymentResponse, 0, len(payments))
	for i := range payments {
		resp = append(resp, toPaymentResponse(&payments[i]))
	}
	writeJSON(w, resp)
}

type notificationResponse struct {
	ID        int64  `json:"id"`
	Recipient string `json:"recipient"`
	Message   string `json:"message"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

func (h *Handler) writeNotifications(w http.ResponseWriter, notifications []model.Notification) {
	if len(notifications) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]notificationResponse, 0, len(notifications))
	for _, n := range notifications {
		resp = append(resp, notificationResponse{
			ID:        n.ID,
			Recipient: n.Recipient,
			Message:   n.Message,
			Status:    string(n.Status),
			CreatedAt: n.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, resp)
}

// ListNotifications возвращает уведомления текущего пользователя.
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	email, ok := identity(w, r)
	if !ok {
		return
	}

	notifications, err := h.service.ListNotifications(r.Context(), email)
	if err != nil {
		h.respondError(w, err, "list notifications error", zap.String("recipient", email))
		return
	}

	h.writeNotifications(w, notifications)
}

// ListAdminNotifications возвращает уведомления операторского канала.
func (h *Handler) ListAdminNotifications(w http.ResponseWriter, r *http.Request) {
	notifications, err := h.service.ListNotifications(r.Context(), model.AdminRecipient)
	if err != nil {
		h.respondError(w, err, "list admin notifications error")
		return
	}

	h.writeNotifications(w, notifications)
}

// MarkNotificationRead помечает уведомление прочитанным.
func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.service.MarkNotificationRead(r.Context(), id); err != nil {
		h.respondError(w, err, "mark notification read error", zap.Int64("notificationID", id))
		return
	}

	w.WriteHeader(http.StatusOK)
}

// AdminTotals возвращает сводку по площадке. Только для операторов.
func (h *Handler) AdminTotals(w http.ResponseWriter, r *http.Request) {
	totals, err := h.service.AdminTotals(r.Context())
	if err != nil {
		h.respondError(w, err, "admin totals error")
		return
	}

	writeJSON(w, totals)
}

// WorkerStats возвращает сводку текущего пользователя как исполнителя.
func (h *Handler) WorkerStats(w http.ResponseWriter, r *http.Request) {
	email, ok := identity(w, r)
	if !ok {
		return
	}

	stats, err := h.service.WorkerStats(r.Context(), email)
	if err != nil {
		h.respondError(w, err, "worker stats error", zap.String("email", email))
		return
	}

	writeJSON(w, stats)
}

// CreatorStats возвращает сводку текущего пользователя как создателя.
func (h *Handler) CreatorStats(w http.ResponseWriter, r *http.Request) {
	email, ok := identity(w, r)
	if !ok {
		return
	}

	stats, err := h.service.CreatorStats(r.Context(), email)
	if err != nil {
		h.respondError(w, err, "creator stats error", zap.String("email", email))
		return
	}

	writeJSON(w, stats)
}

// TopWorkers возвращает рейтинг исполнителей по монетам.
func (h *Handler) TopWorkers(w http.ResponseWriter, r *http.Request) {
	workers, err := h.service.TopWorkers(r.Context())
	if err != nil {
		h.respondError(w, err, "top workers error")
		return
	}

	writeJSON(w, workers)
}
