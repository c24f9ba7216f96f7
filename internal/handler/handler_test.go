package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/picopai-system/internal/middleware"
	"github.com/mmeshcher/picopai-system/internal/model"
	"github.com/mmeshcher/picopai-system/internal/repository"
	"github.com/mmeshcher/picopai-system/internal/service"
)

// stubService реализует контракт Service через подменяемые функции.
type stubService struct {
	registerUserFunc      func(ctx context.Context, email, name, photoURL string, role model.Role) (int64, error)
	getUserFunc           func(ctx context.Context, email string) (*model.User, error)
	getBalanceFunc        func(ctx context.Context, email string) (int64, error)
	listWorkersFunc       func(ctx context.Context) ([]model.User, error)
	createTaskFunc        func(ctx context.Context, creatorEmail, title, details, submissionInfo string, payable, quantity int64) (*model.Task, error)
	listTasksFunc         func(ctx context.Context) ([]model.Task, error)
	createSubmissionFunc  func(ctx context.Context, workerEmail string, taskID int64) (*model.Submission, error)
	approveSubmissionFunc func(ctx context.Context, caller string, id int64) (*model.Submission, error)
	settleWithdrawalFunc  func(ctx context.Context, id int64) (*model.Withdrawal, error)
	topUpFunc             func(ctx context.Context, payerEmail string, priceTier int64, intentID string) (*model.Payment, error)
}

func (s *stubService) RegisterUser(ctx context.Context, email, name, photoURL string, role model.Role) (int64, error) {
	return s.registerUserFunc(ctx, email, name, photoURL, role)
}

func (s *stubService) GetUser(ctx context.Context, email string) (*model.User, error) {
	return s.getUserFunc(ctx, email)
}

func (s *stubService) ListWorkers(ctx context.Context) ([]model.User, error) {
	return s.listWorkersFunc(ctx)
}

func (s *stubService) GetBalance(ctx context.Context, email string) (int64, error) {
	return s.getBalanceFunc(ctx, email)
}

func (s *stubService) UpdateUserRole(ctx context.Context, email string, role model.Role) error {
	return nil
}

func (s *stubService) DeleteUser(ctx context.Context, email string) error { return nil }

func (s *stubService) CreateTask(ctx context.Context, creatorEmail, title, details, submissionInfo string, payable, quantity int64) (*model.Task, error) {
	return s.createTaskFunc(ctx, creatorEmail, title, details, submissionInfo, payable, quantity)
}

func (s *stubService) GetTask(ctx context.Context, id int64) (*model.Task, error) {
	return nil, repository.ErrTaskNotFound
}

func (s *stubService) ListTasks(ctx context.Context) ([]model.Task, error) {
	return s.listTasksFunc(ctx)
}

func (s *stubService) ListTasksByCreator(ctx context.Context, creatorEmail string) ([]model.Task, error) {
	return nil, nil
}

func (s *stubService) UpdateTaskDetails(ctx context.Context, caller string, id int64, title, details, submissionInfo string) error {
	return nil
}

func (s *stubService) DeleteTask(ctx context.Context, caller string, id int64) error { return nil }

func (s *stubService) CreateSubmission(ctx context.Context, workerEmail string, taskID int64) (*model.Submission, error) {
	return s.createSubmissionFunc(ctx, workerEmail, taskID)
}

func (s *stubService) ListSubmissionsByCreator(ctx context.Context, creatorEmail string) ([]model.Submission, error) {
	return nil, nil
}

func (s *stubService) ListSubmissionsByWorker(ctx context.Context, workerEmail string) ([]model.Submission, error) {
	return nil, nil
}

func (s *stubService) ApproveSubmission(ctx context.Context, caller string, id int64) (*model.Submission, error) {
	return s.approveSubmissionFunc(ctx, caller, id)
}

func (s *stubService) RejectSubmission(ctx context.Context, caller string, id int64) (*model.Submission, error) {
	return nil, repository.ErrSubmissionNotFound
}

func (s *stubService) RequestWithdrawal(ctx context.Context, workerEmail string, coinAmount int64, cashAmount decimal.Decimal, idempotencyKey string) (*model.Withdrawal, error) {
	return nil, repository.ErrUserNotFound
}

func (s *stubService) SettleWithdrawal(ctx context.Context, id int64) (*model.Withdrawal, error) {
	return s.settleWithdrawalFunc(ctx, id)
}

func (s *stubService) CancelWithdrawal(ctx context.Context, caller string, id int64) error {
	return nil
}

func (s *stubService) ListWithdrawals(ctx context.Context) ([]model.Withdrawal, error) {
	return nil, nil
}

func (s *stubService) ListWithdrawalsByWorker(ctx context.Context, workerEmail string) ([]model.Withdrawal, error) {
	return nil, nil
}

func (s *stubService) TopUp(ctx context.Context, payerEmail string, priceTier int64, intentID string) (*model.Payment, error) {
	return s.topUpFunc(ctx, payerEmail, priceTier, intentID)
}

func (s *stubService) ListPaymentsByPayer(ctx context.Context, payerEmail string) ([]model.Payment, error) {
	return nil, nil
}

func (s *stubService) ListNotifications(ctx context.Context, recipient string) ([]model.Notification, error) {
	return nil, nil
}

func (s *stubService) MarkNotificationRead(ctx context.Context, id int64) error { return nil }

func (s *stubService) AdminTotals(ctx context.Context) (*model.AdminTotals, error) {
	return &model.AdminTotals{}, nil
}

func (s *stubService) WorkerStats(ctx context.Context, email string) (*model.WorkerStats, error) {
	return &model.WorkerStats{}, nil
}

func (s *stubService) CreatorStats(ctx context.Context, email string) (*model.CreatorStats, error) {
	return &model.CreatorStats{}, nil
}

func (s *stubService) TopWorkers(ctx context.Context) ([]model.TopWorker, error) {
	return nil, nil
}

func newTestServer(t *testing.T, svc Service) (*httptest.Server, *middleware.AuthMiddleware) {
	t.Helper()

	auth := middleware.NewAuthMiddleware("test-secret")
	h := NewHandler(svc, zap.NewNop(), auth)

	srv := httptest.NewServer(h.SetupRouter())
	t.Cleanup(srv.Close)

	return srv, auth
}

func authCookie(t *testing.T, auth *middleware.AuthMiddleware, email string) *http.Cookie {
	t.Helper()

	rec := httptest.NewRecorder()
	auth.SetAuthCookie(rec, email)

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("expected 1 auth cookie, got %d", len(cookies))
	}
	return cookies[0]
}

func doRequest(t *testing.T, method, url string, body []byte, cookie *http.Cookie) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	return resp
}

func TestRegister(t *testing.T) {
	svc := &stubService{
		registerUserFunc: func(ctx context.Context, email, name, photoURL string, role model.Role) (int64, error) {
			return 7, nil
		},
	}
	srv, _ := newTestServer(t, svc)

	body, _ := json.Marshal(map[string]string{"email": "worker@x.com", "name": "W"})
	resp := doRequest(t, http.MethodPost, srv.URL+"/api/users", body, nil)

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type = %q, want application/json", ct)
	}
	if len(resp.Cookies()) == 0 {
		t.Fatalf("auth cookie not set")
	}

	var got map[string]int64
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got["id"] != 7 {
		t.Fatalf("id = %d, want 7", got["id"])
	}
}

func TestRegister_Conflict(t *testing.T) {
	svc := &stubService{
		registerUserFunc: func(ctx context.Context, email, name, photoURL string, role model.Role) (int64, error) {
			return 0, repository.ErrUserExists
		},
	}
	srv, _ := newTestServer(t, svc)

	body, _ := json.Marshal(map[string]string{"email": "worker@x.com"})
	resp := doRequest(t, http.MethodPost, srv.URL+"/api/users", body, nil)

	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
}

func TestAuthRequired(t *testing.T) {
	srv, _ := newTestServer(t, &stubService{})

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/tasks", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status without cookie = %d, want 401", resp.StatusCode)
	}

	tampered := &http.Cookie{Name: "auth_token", Value: "deadbeef.worker@x.com"}
	resp = doRequest(t, http.MethodGet, srv.URL+"/api/tasks", nil, tampered)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status with tampered cookie = %d, want 401", resp.StatusCode)
	}
}

func TestGetBalance(t *testing.T) {
	svc := &stubService{
		getBalanceFunc: func(ctx context.Context, email string) (int64, error) {
			if email != "worker@x.com" {
				return 0, repository.ErrUserNotFound
			}
			return 42, nil
		},
	}
	srv, auth := newTestServer(t, svc)
	cookie := authCookie(t, auth, "worker@x.com")

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/users/worker@x.com/balance", nil, cookie)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var got map[string]int64
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got["coin"] != 42 {
		t.Fatalf("coin = %d, want 42", got["coin"])
	}

	resp = doRequest(t, http.MethodGet, srv.URL+"/api/users/ghost@x.com/balance", nil, cookie)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status for unknown user = %d, want 404", resp.StatusCode)
	}
}

func TestCreateTask_StatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "insufficient funds", err: repository.ErrInsufficientFunds, wantStatus: http.StatusPaymentRequired},
		{name: "invalid amount", err: service.ErrInvalidAmount, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{
				createTaskFunc: func(ctx context.Context, creatorEmail, title, details, submissionInfo string, payable, quantity int64) (*model.Task, error) {
					return nil, tt.err
				},
			}
			srv, auth := newTestServer(t, svc)
			cookie := authCookie(t, auth, "creator@x.com")

			body, _ := json.Marshal(map[string]any{"title": "t", "payable": 5, "quantity": 10})
			resp := doRequest(t, http.MethodPost, srv.URL+"/api/tasks", body, cookie)

			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
		})
	}
}

func TestCreateTask_RequiresTitle(t *testing.T) {
	srv, auth := newTestServer(t, &stubService{})
	cookie := authCookie(t, auth, "creator@x.com")

	body, _ := json.Marshal(map[string]any{"payable": 5, "quantity": 10})
	resp := doRequest(t, http.MethodPost, srv.URL+"/api/tasks", body, cookie)

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestListTasks_Empty(t *testing.T) {
	svc := &stubService{
		listTasksFunc: func(ctx context.Context) ([]model.Task, error) { return nil, nil },
	}
	srv, auth := newTestServer(t, svc)
	cookie := authCookie(t, auth, "worker@x.com")

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/tasks", nil, cookie)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}
}

func TestCreateSubmission_CapacityExhausted(t *testing.T) {
	svc := &stubService{
		createSubmissionFunc: func(ctx context.Context, workerEmail string, taskID int64) (*model.Submission, error) {
			return nil, repository.ErrCapacityExhausted
		},
	}
	srv, auth := newTestServer(t, svc)
	cookie := authCookie(t, auth, "worker@x.com")

	body, _ := json.Marshal(map[string]int64{"task_id": 1})
	resp := doRequest(t, http.MethodPost, srv.URL+"/api/submissions", body, cookie)

	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
}

func TestApproveSubmission_StatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "already decided", err: repository.ErrSubmissionDecided, wantStatus: http.StatusConflict},
		{name: "not the creator", err: service.ErrForbidden, wantStatus: http.StatusForbidden},
		{name: "not found", err: repository.ErrSubmissionNotFound, wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{
				approveSubmissionFunc: func(ctx context.Context, caller string, id int64) (*model.Submission, error) {
					return nil, tt.err
				},
			}
			srv, auth := newTestServer(t, svc)
			cookie := authCookie(t, auth, "creator@x.com")

			resp := doRequest(t, http.MethodPost, srv.URL+"/api/submissions/1/approve", nil, cookie)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
		})
	}
}

func TestTopUp_UnknownTier(t *testing.T) {
	svc := &stubService{
		topUpFunc: func(ctx context.Context, payerEmail string, priceTier int64, intentID string) (*model.Payment, error) {
			return nil, service.ErrUnknownPriceTier
		},
	}
	srv, auth := newTestServer(t, svc)
	cookie := authCookie(t, auth, "payer@x.com")

	body, _ := json.Marshal(map[string]any{"price_tier": 7, "intent_id": "pi_1"})
	resp := doRequest(t, http.MethodPost, srv.URL+"/api/payments", body, cookie)

	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
}

func TestSettleWithdrawal_AdminOnly(t *testing.T) {
	settled := false
	svc := &stubService{
		getUserFunc: func(ctx context.Context, email string) (*model.User, error) {
			role := model.RoleWorker
			if email == "admin@x.com" {
				role = model.RoleAdmin
			}
			return &model.User{Email: email, Role: role}, nil
		},
		settleWithdrawalFunc: func(ctx context.Context, id int64) (*model.Withdrawal, error) {
			settled = true
			return &model.Withdrawal{ID: id, WorkerEmail: "worker@x.com", CoinAmount: 10, CashAmount: decimal.NewFromInt(1), Status: model.WithdrawalStatusSuccess}, nil
		},
	}
	srv, auth := newTestServer(t, svc)

	worker := authCookie(t, auth, "worker@x.com")
	resp := doRequest(t, http.MethodPost, srv.URL+"/api/withdrawals/1/settle", nil, worker)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status for worker = %d, want 403", resp.StatusCode)
	}
	if settled {
		t.Fatalf("settle executed for non-admin caller")
	}

	admin := authCookie(t, auth, "admin@x.com")
	resp = doRequest(t, http.MethodPost, srv.URL+"/api/withdrawals/1/settle", nil, admin)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status for admin = %d, want 200", resp.StatusCode)
	}
	if !settled {
		t.Fatalf("settle not executed for admin caller")
	}
}

func TestListWorkers_AdminOnly(t *testing.T) {
	svc := &stubService{
		getUserFunc: func(ctx context.Context, email string) (*model.User, error) {
			role := model.RoleWorker
			if email == "admin@x.com" {
				role = model.RoleAdmin
			}
			return &model.User{Email: email, Role: role}, nil
		},
		listWorkersFunc: func(ctx context.Context) ([]model.User, error) {
			return []model.User{
				{Email: "w1@x.com", Role: model.RoleWorker, Coin: 30},
				{Email: "w2@x.com", Role: model.RoleWorker, Coin: 10},
			}, nil
		},
	}
	srv, auth := newTestServer(t, svc)

	worker := authCookie(t, auth, "w1@x.com")
	resp := doRequest(t, http.MethodGet, srv.URL+"/api/workers", nil, worker)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status for worker = %d, want 403", resp.StatusCode)
	}

	admin := authCookie(t, auth, "admin@x.com")
	resp = doRequest(t, http.MethodGet, srv.URL+"/api/workers", nil, admin)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status for admin = %d, want 200", resp.StatusCode)
	}

	var got []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("workers = %d, want 2", len(got))
	}
}

func TestPathID_Invalid(t *testing.T) {
	srv, auth := newTestServer(t, &stubService{})
	cookie := authCookie(t, auth, "worker@x.com")

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/tasks/abc", nil, cookie)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}
