package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/mmeshcher/picopai-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса picopai.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Picopai Server is Running"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/users", h.Register)
		r.Get("/top-workers", h.TopWorkers)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Get("/users/{email}", h.GetUser)
			r.Get("/users/{email}/balance", h.GetBalance)

			r.Post("/tasks", h.CreateTask)
			r.Get("/tasks", h.ListTasks)
			r.Get("/tasks/{id}", h.GetTask)
			r.Put("/tasks/{id}", h.UpdateTask)
			r.Delete("/tasks/{id}", h.DeleteTask)

			r.Post("/submissions", h.CreateSubmission)
			r.Get("/submissions", h.ListSubmissions)
			r.Post("/submissions/{id}/approve", h.ApproveSubmission)
			r.Post("/submissions/{id}/reject", h.RejectSubmission)

			r.Post("/withdrawals", h.RequestWithdrawal)
			r.Get("/withdrawals/my", h.ListMyWithdrawals)
			r.Delete("/withdrawals/{id}", h.CancelWithdrawal)

			r.Post("/payments", h.TopUp)
			r.Get("/payments", h.ListPayments)

			r.Get("/notifications", h.ListNotifications)
			r.Post("/notifications/{id}/read", h.MarkNotificationRead)

			r.Get("/stats/worker", h.WorkerStats)
			r.Get("/stats/creator", h.CreatorStats)

			// Операторские маршруты.
			r.Group(func(r chi.Router) {
				r.Use(h.adminOnly)

				r.Get("/workers", h.ListWorkers)
				r.Patch("/users/{email}/role", h.UpdateRole)
				r.Delete("/users/{email}", h.DeleteUser)
				r.Get("/withdrawals", h.ListWithdrawals)
				r.Post("/withdrawals/{id}/settle", h.SettleWithdrawal)
				r.Get("/notifications/admin", h.ListAdminNotifications)
				r.Get("/stats/admin", h.AdminTotals)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
