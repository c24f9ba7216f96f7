// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/picopai-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserExists возвращается при попытке создать пользователя с уже существующим email.
var (
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrTaskNotFound возвращается, если задание не найдено.
	ErrTaskNotFound = errors.New("task not found")
	// ErrSubmissionNotFound возвращается, если сданная работа не найдена.
	ErrSubmissionNotFound = errors.New("submission not found")
	// ErrWithdrawalNotFound возвращается, если заявка на вывод не найдена.
	ErrWithdrawalNotFound = errors.New("withdrawal not found")
	// ErrNotificationNotFound возвращается, если уведомление не найдено.
	ErrNotificationNotFound = errors.New("notification not found")
	// ErrAmountOverflow возвращается, если сумма удержания не представима в int64.
	ErrAmountOverflow = errors.New("escrow amount overflows int64")
	// ErrInsufficientFunds возвращается при списании суммы, превышающей баланс монет.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrCapacityExhausted возвращается при сдаче работы по заданию без свободных мест.
	ErrCapacityExhausted = errors.New("task capacity exhausted")
	// ErrSubmissionDecided возвращается при попытке изменить уже рассмотренную работу.
	ErrSubmissionDecided = errors.New("submission already decided")
	// ErrAlreadySettled возвращается при повторной выплате или отмене выплаченной заявки.
	ErrAlreadySettled = errors.New("withdrawal already settled")
	// ErrIdempotencyConflict возвращается, если ключ идемпотентности повторён с другими данными.
	ErrIdempotencyConflict = errors.New("idempotency key reused with different payload")
)

// Options содержит параметры поведения хранилища.
type Options struct {
	// EnforceNonNegativeBalance запрещает списания, уводящие баланс монет ниже нуля.
	EnforceNonNegativeBalance bool
}

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
// Все парные мутации (списание + вставка, зачисление + смена статуса)
// выполняются в одной транзакции, а изменения баланса — только инкрементом поля.
type PostgresRepository struct {
	pool *pgxpool.Pool
	opts Options
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string, opts Options) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool, opts: opts}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет транзакцию при конфликте сериализации или дедлоке.
// Повтор безопасен только потому, что fn выполняется целиком в транзакции.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(3, retry.NewFibonacci(500*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) &&
			(pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected) {
			return retry.RetryableError(err)
		}

		return err
	})
}

func (r *PostgresRepository) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateUser создаёт нового пользователя с нулевым балансом монет.
func (r *PostgresRepository) CreateUser(ctx context.Context, email, name, photoURL string, role model.Role) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (email, name, photo_url, role) VALUES ($1, $2, $3, $4) RETURNING id`,
		email, name, photoURL, string(role),
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, email)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// GetUserByEmail возвращает пользователя по email.
func (r *PostgresRepository) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, email, name, photo_url, role, coin, completed_tasks, created_at
		 FROM users WHERE email = $1`,
		email,
	)

	var u model.User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PhotoURL, &u.Role, &u.Coin, &u.CompletedTasks, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return &u, nil
}

// ListUsersByRole возвращает всех пользователей с указанной ролью.
func (r *PostgresRepository) ListUsersByRole(ctx context.Context, role model.Role) ([]model.User, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, email, name, photo_url, role, coin, completed_tasks, created_at
		 FROM users
		 WHERE role = $1
		 ORDER BY created_at DESC`,
		string(role),
	)
	if err != nil {
		return nil, fmt.Errorf("select users by role: %w", err)
	}
	defer rows.Close()

	var res []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &u.PhotoURL, &u.Role, &u.Coin,
			&u.CompletedTasks, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		res = append(res, u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// UpdateUserRole меняет роль пользователя.
func (r *PostgresRepository) UpdateUserRole(ctx context.Context, email string, role model.Role) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET role = $2 WHERE email = $1`,
		email, string(role),
	)
	if err != nil {
		return fmt.Errorf("update role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// DeleteUser удаляет пользователя вместе с его заданиями.
func (r *PostgresRepository) DeleteUser(ctx context.Context, email string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM users WHERE email = $1`, email)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// GetBalance возвращает текущий баланс монет пользователя.
func (r *PostgresRepository) GetBalance(ctx context.Context, email string) (int64, error) {
	var coin int64
	err := r.pool.QueryRow(ctx, `SELECT coin FROM users WHERE email = $1`, email).Scan(&coin)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrUserNotFound
		}
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return coin, nil
}

// CreateTask списывает со счёта создателя payable×quantity монет и создаёт задание.
// Списание и вставка выполняются в одной транзакции: частичного исполнения не бывает.
func (r *PostgresRepository) CreateTask(ctx context.Context, t *model.Task) (int64, error) {
	if t.Payable <= 0 || t.Remaining <= 0 || t.Payable > math.MaxInt64/t.Remaining {
		return 0, ErrAmountOverflow
	}
	total := t.Payable * t.Remaining

	var id int64
	err := r.withRetry(ctx, func(ctx context.Context) error {
		return r.inTx(ctx, func(tx pgx.Tx) error {
			var coin int64
			err := tx.QueryRow(ctx,
				`SELECT coin FROM users WHERE email = $1 FOR UPDATE`,
				t.CreatorEmail,
			).Scan(&coin)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return ErrUserNotFound
				}
				return fmt.Errorf("lock creator: %w", err)
			}

			if r.opts.EnforceNonNegativeBalance && coin < total {
				return ErrInsufficientFunds
			}

			if _, err := tx.Exec(ctx,
				`UPDATE users SET coin = coin - $1 WHERE email = $2`,
				total, t.CreatorEmail,
			); err != nil {
				return fmt.Errorf("debit creator: %w", err)
			}

			err = tx.QueryRow(ctx,
				`INSERT INTO tasks (creator_email, title, details, submission_info, payable, remaining)
				 VALUES ($1, $2, $3, $4, $5, $6)
				 RETURNING id`,
				t.CreatorEmail, t.Title, t.Details, t.SubmissionInfo, t.Payable, t.Remaining,
			).Scan(&id)
			if err != nil {
				return fmt.Errorf("insert task: %w", err)
			}

			return nil
		})
	})
	if err != nil {
		return 0, err
	}

	return id, nil
}

func scanTasks(rows pgx.Rows) ([]model.Task, error) {
	defer rows.Close()

	var tasks []model.Task
	for rows.Next() {
		var t model.Task
		if err := rows.Scan(&t.ID, &t.CreatorEmail, &t.Title, &t.Details, &t.SubmissionInfo,
			&t.Payable, &t.Remaining, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return tasks, nil
}

// GetTask возвращает задание по идентификатору.
func (r *PostgresRepository) GetTask(ctx context.Context, id int64) (*model.Task, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, creator_email, title, details, submission_info, payable, remaining, created_at
		 FROM tasks WHERE id = $1`,
		id,
	)

	var t model.Task
	err := row.Scan(&t.ID, &t.CreatorEmail, &t.Title, &t.Details, &t.SubmissionInfo,
		&t.Payable, &t.Remaining, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("get task: %w", err)
	}

	return &t, nil
}

// ListTasks возвращает все задания площадки.
func (r *PostgresRepository) ListTasks(ctx context.Context) ([]model.Task, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, creator_email, title, details, submission_info, payable, remaining, created_at
		 FROM tasks
		 ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("select tasks: %w", err)
	}
	return scanTasks(rows)
}

// ListTasksByCreator возвращает задания конкретного создателя.
func (r *PostgresRepository) ListTasksByCreator(ctx context.Context, creatorEmail string) ([]model.Task, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, creator_email, title, details, submission_info, payable, remaining, created_at
		 FROM tasks
		 WHERE creator_email = $1
		 ORDER BY created_at DESC`,
		creatorEmail,
	)
	if err != nil {
		return nil, fmt.Errorf("select tasks by creator: %w", err)
	}
	return scanTasks(rows)
}

// UpdateTaskDetails меняет только описательные поля задания.
// Счётчик remaining и удержанные монеты этим запросом не затрагиваются.
func (r *PostgresRepository) UpdateTaskDetails(ctx context.Context, id int64, title, details, submissionInfo string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE tasks SET title = $2, details = $3, submission_info = $4 WHERE id = $1`,
		id, title, details, submissionInfo,
	)
	if err != nil {
		return fmt.Errorf("update task details: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// DeleteTask возвращает создателю remaining×payable монет и удаляет задание.
// Возврат и удаление выполняются в одной транзакции, поэтому операция не
// может зачислить возврат дважды.
func (r *PostgresRepository) DeleteTask(ctx context.Context, id int64) error {
	return r.withRetry(ctx, func(ctx context.Context) error {
		return r.inTx(ctx, func(tx pgx.Tx) error {
			var (
				creatorEmail string
				payable      int64
				remaining    int64
			)
			err := tx.QueryRow(ctx,
				`SELECT creator_email, payable, remaining FROM tasks WHERE id = $1 FOR UPDATE`,
				id,
			).Scan(&creatorEmail, &payable, &remaining)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return ErrTaskNotFound
				}
				return fmt.Errorf("lock task: %w", err)
			}

			refund := payable * remaining
			if refund > 0 {
				if _, err := tx.Exec(ctx,
					`UPDATE users SET coin = coin + $1 WHERE email = $2`,
					refund, creatorEmail,
				); err != nil {
					return fmt.Errorf("refund creator: %w", err)
				}
			}

			if _, err := tx.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id); err != nil {
				return fmt.Errorf("delete task: %w", err)
			}

			return nil
		})
	})
}

// CreateSubmission уменьшает количество свободных мест задания и создаёт
// работу в статусе pending. Монеты при этом не движутся: сумма уже удержана
// при создании задания.
func (r *PostgresRepository) CreateSubmission(ctx context.Context, taskID int64, workerEmail string) (*model.Submission, error) {
	var sub model.Submission

	err := r.withRetry(ctx, func(ctx context.Context) error {
		return r.inTx(ctx, func(tx pgx.Tx) error {
			var (
				creatorEmail string
				title        string
				payable      int64
				remaining    int64
			)
			err := tx.QueryRow(ctx,
				`SELECT creator_email, title, payable, remaining FROM tasks WHERE id = $1 FOR UPDATE`,
				taskID,
			).Scan(&creatorEmail, &title, &payable, &remaining)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return ErrTaskNotFound
				}
				return fmt.Errorf("lock task: %w", err)
			}

			if remaining <= 0 {
				return ErrCapacityExhausted
			}

			if _, err := tx.Exec(ctx,
				`UPDATE tasks SET remaining = remaining - 1 WHERE id = $1`,
				taskID,
			); err != nil {
				return fmt.Errorf("decrement remaining: %w", err)
			}

			sub = model.Submission{
				TaskID:       taskID,
				TaskTitle:    title,
				WorkerEmail:  workerEmail,
				CreatorEmail: creatorEmail,
				Payable:      payable,
				Status:       model.SubmissionStatusPending,
			}

			err = tx.QueryRow(ctx,
				`INSERT INTO submissions (task_id, task_title, worker_email, creator_email, payable)
				 VALUES ($1, $2, $3, $4, $5)
				 RETURNING id, created_at`,
				taskID, title, workerEmail, creatorEmail, payable,
			).Scan(&sub.ID, &sub.CreatedAt)
			if err != nil {
				return fmt.Errorf("insert submission: %w", err)
			}

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return &sub, nil
}

// GetSubmission возвращает сданную работу по идентификатору.
func (r *PostgresRepository) GetSubmission(ctx context.Context, id int64) (*model.Submission, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, task_id, task_title, worker_email, creator_email, payable, status, created_at, decided_at
		 FROM submissions WHERE id = $1`,
		id,
	)

	var s model.Submission
	err := row.Scan(&s.ID, &s.TaskID, &s.TaskTitle, &s.WorkerEmail, &s.CreatorEmail,
		&s.Payable, &s.Status, &s.CreatedAt, &s.DecidedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubmissionNotFound
		}
		return nil, fmt.Errorf("get submission: %w", err)
	}

	return &s, nil
}

func scanSubmissions(rows pgx.Rows) ([]model.Submission, error) {
	defer rows.Close()

	var subs []model.Submission
	for rows.Next() {
		var s model.Submission
		if err := rows.Scan(&s.ID, &s.TaskID, &s.TaskTitle, &s.WorkerEmail, &s.CreatorEmail,
			&s.Payable, &s.Status, &s.CreatedAt, &s.DecidedAt); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		subs = append(subs, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return subs, nil
}

// ListSubmissionsByCreator возвращает работы по заданиям создателя.
func (r *PostgresRepository) ListSubmissionsByCreator(ctx context.Context, creatorEmail string) ([]model.Submission, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, task_id, task_title, worker_email, creator_email, payable, status, created_at, decided_at
		 FROM submissions
		 WHERE creator_email = $1
		 ORDER BY created_at DESC`,
		creatorEmail,
	)
	if err != nil {
		return nil, fmt.Errorf("select submissions by creator: %w", err)
	}
	return scanSubmissions(rows)
}

// ListSubmissionsByWorker возвращает работы исполнителя.
func (r *PostgresRepository) ListSubmissionsByWorker(ctx context.Context, workerEmail string) ([]model.Submission, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, task_id, task_title, worker_email, creator_email, payable, status, created_at, decided_at
		 FROM submissions
		 WHERE worker_email = $1
		 ORDER BY created_at DESC`,
		workerEmail,
	)
	if err != nil {
		return nil, fmt.Errorf("select submissions by worker: %w", err)
	}
	return scanSubmissions(rows)
}

// ApproveSubmission зачисляет исполнителю payable монет, увеличивает его
// счётчик выполненных заданий и переводит работу в статус approved.
// Допустима только из статуса pending: повторный вызов вернёт ErrSubmissionDecided.
func (r *PostgresRepository) ApproveSubmission(ctx context.Context, id int64) (*model.Submission, error) {
	var sub model.Submission

	err := r.withRetry(ctx, func(ctx context.Context) error {
		return r.inTx(ctx, func(tx pgx.Tx) error {
			err := tx.QueryRow(ctx,
				`SELECT id, task_id, task_title, worker_email, creator_email, payable, status, created_at
				 FROM submissions WHERE id = $1 FOR UPDATE`,
				id,
			).Scan(&sub.ID, &sub.TaskID, &sub.TaskTitle, &sub.WorkerEmail, &sub.CreatorEmail,
				&sub.Payable, &sub.Status, &sub.CreatedAt)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return ErrSubmissionNotFound
				}
				return fmt.Errorf("lock submission: %w", err)
			}

			if sub.Status != model.SubmissionStatusPending {
				return ErrSubmissionDecided
			}

			tag, err := tx.Exec(ctx,
				`UPDATE users SET coin = coin + $1, completed_tasks = completed_tasks + 1 WHERE email = $2`,
				sub.Payable, sub.WorkerEmail,
			)
			if err != nil {
				return fmt.Errorf("credit worker: %w", err)
			}
			if tag.RowsAffected() == 0 {
				return ErrUserNotFound
			}

			var decidedAt time.Time
			err = tx.QueryRow(ctx,
				`UPDATE submissions SET status = $2, decided_at = now() WHERE id = $1 RETURNING decided_at`,
				id, string(model.SubmissionStatusApproved),
			).Scan(&decidedAt)
			if err != nil {
				return fmt.Errorf("update submission: %w", err)
			}

			sub.Status = model.SubmissionStatusApproved
			sub.DecidedAt = &decidedAt

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return &sub, nil
}

// RejectSubmission переводит работу в статус rejected. Монеты не движутся:
// удержанная сумма остаётся за заданием до его удаления. При restoreCapacity
// место в задании возвращается в той же транзакции.
func (r *PostgresRepository) RejectSubmission(ctx context.Context, id int64, restoreCapacity bool) (*model.Submission, error) {
	var sub model.Submission

	err := r.withRetry(ctx, func(ctx context.Context) error {
		return r.inTx(ctx, func(tx pgx.Tx) error {
			err := tx.QueryRow(ctx,
				`SELECT id, task_id, task_title, worker_email, creator_email, payable, status, created_at
				 FROM submissions WHERE id = $1 FOR UPDATE`,
				id,
			).Scan(&sub.ID, &sub.TaskID, &sub.TaskTitle, &sub.WorkerEmail, &sub.CreatorEmail,
				&sub.Payable, &sub.Status, &sub.CreatedAt)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return ErrSubmissionNotFound
				}
				return fmt.Errorf("lock submission: %w", err)
			}

			if sub.Status != model.SubmissionStatusPending {
				return ErrSubmissionDecided
			}

			if restoreCapacity {
				// Задание могло быть уже удалено, тогда возвращать место некуда.
				if _, err := tx.Exec(ctx,
					`UPDATE tasks SET remaining = remaining + 1 WHERE id = $1`,
					sub.TaskID,
				); err != nil {
					return fmt.Errorf("restore capacity: %w", err)
				}
			}

			var decidedAt time.Time
			err = tx.QueryRow(ctx,
				`UPDATE submissions SET status = $2, decided_at = now() WHERE id = $1 RETURNING decided_at`,
				id, string(model.SubmissionStatusRejected),
			).Scan(&decidedAt)
			if err != nil {
				return fmt.Errorf("update submission: %w", err)
			}

			sub.Status = model.SubmissionStatusRejected
			sub.DecidedAt = &decidedAt

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return &sub, nil
}

// CreateWithdrawalInput содержит данные для создания заявки на вывод.
type CreateWithdrawalInput struct {
	WorkerEmail    string
	CoinAmount     int64
	CashAmount     decimal.Decimal
	IdempotencyKey string
}

// CreateWithdrawal создаёт заявку на вывод в статусе pending. Баланс при этом
// не списывается. Повтор с тем же ключом идемпотентности возвращает уже
// созданную заявку, а с тем же ключом и другими данными — ErrIdempotencyConflict.
func (r *PostgresRepository) CreateWithdrawal(ctx context.Context, input CreateWithdrawalInput) (*model.Withdrawal, error) {
	var w model.Withdrawal

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		existing, err := getWithdrawalByKey(ctx, tx, input.IdempotencyKey)
		if err == nil {
			if !withdrawalMatchesInput(existing, input) {
				return ErrIdempotencyConflict
			}
			w = *existing
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}

		w = model.Withdrawal{
			WorkerEmail:    input.WorkerEmail,
			CoinAmount:     input.CoinAmount,
			CashAmount:     input.CashAmount,
			Status:         model.WithdrawalStatusPending,
			IdempotencyKey: input.IdempotencyKey,
		}

		err = tx.QueryRow(ctx,
			`INSERT INTO withdrawals (worker_email, coin_amount, cash_amount, idempotency_key)
			 VALUES ($1, $2, $3, $4)
			 RETURNING id, created_at`,
			input.WorkerEmail, input.CoinAmount, input.CashAmount, input.IdempotencyKey,
		).Scan(&w.ID, &w.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert withdrawal: %w", err)
		}

		return nil
	})
	if err != nil {
		// Параллельный первый запрос с тем же ключом успел вставить строку
		// между проверкой и вставкой: для проигравшего это тот же повтор.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return r.replayWithdrawal(ctx, input)
		}
		return nil, err
	}

	return &w, nil
}

func (r *PostgresRepository) replayWithdrawal(ctx context.Context, input CreateWithdrawalInput) (*model.Withdrawal, error) {
	var w model.Withdrawal
	err := r.pool.QueryRow(ctx,
		`SELECT id, worker_email, coin_amount, cash_amount, status, idempotency_key, created_at, settled_at
		 FROM withdrawals WHERE idempotency_key = $1`,
		input.IdempotencyKey,
	).Scan(&w.ID, &w.WorkerEmail, &w.CoinAmount, &w.CashAmount, &w.Status,
		&w.IdempotencyKey, &w.CreatedAt, &w.SettledAt)
	if err != nil {
		return nil, fmt.Errorf("reread withdrawal: %w", err)
	}

	if !withdrawalMatchesInput(&w, input) {
		return nil, ErrIdempotencyConflict
	}

	return &w, nil
}

// withdrawalMatchesInput проверяет, что повтор по ключу идемпотентности несёт
// тот же запрос, а не новый под чужим ключом.
func withdrawalMatchesInput(w *model.Withdrawal, input CreateWithdrawalInput) bool {
	return w.WorkerEmail == input.WorkerEmail &&
		w.CoinAmount == input.CoinAmount &&
		w.CashAmount.Equal(input.CashAmount)
}

func getWithdrawalByKey(ctx context.Context, tx pgx.Tx, key string) (*model.Withdrawal, error) {
	var w model.Withdrawal
	err := tx.QueryRow(ctx,
		`SELECT id, worker_email, coin_amount, cash_amount, status, idempotency_key, created_at, settled_at
		 FROM withdrawals WHERE idempotency_key = $1`,
		key,
	).Scan(&w.ID, &w.WorkerEmail, &w.CoinAmount, &w.CashAmount, &w.Status,
		&w.IdempotencyKey, &w.CreatedAt, &w.SettledAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// GetWithdrawal возвращает заявку на вывод по идентификатору.
func (r *PostgresRepository) GetWithdrawal(ctx context.Context, id int64) (*model.Withdrawal, error) {
	var w model.Withdrawal
	err := r.pool.QueryRow(ctx,
		`SELECT id, worker_email, coin_amount, cash_amount, status, idempotency_key, created_at, settled_at
		 FROM withdrawals WHERE id = $1`,
		id,
	).Scan(&w.ID, &w.WorkerEmail, &w.CoinAmount, &w.CashAmount, &w.Status,
		&w.IdempotencyKey, &w.CreatedAt, &w.SettledAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWithdrawalNotFound
		}
		return nil, fmt.Errorf("get withdrawal: %w", err)
	}
	return &w, nil
}

// SettleWithdrawal списывает с исполнителя монеты заявки и помечает её
// выплаченной. Повторная выплата той же заявки возвращает ErrAlreadySettled
// и не трогает баланс.
func (r *PostgresRepository) SettleWithdrawal(ctx context.Context, id int64) (*model.Withdrawal, error) {
	var w model.Withdrawal

	err := r.withRetry(ctx, func(ctx context.Context) error {
		return r.inTx(ctx, func(tx pgx.Tx) error {
			err := tx.QueryRow(ctx,
				`SELECT id, worker_email, coin_amount, cash_amount, status, idempotency_key, created_at
				 FROM withdrawals WHERE id = $1 FOR UPDATE`,
				id,
			).Scan(&w.ID, &w.WorkerEmail, &w.CoinAmount, &w.CashAmount, &w.Status,
				&w.IdempotencyKey, &w.CreatedAt)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return ErrWithdrawalNotFound
				}
				return fmt.Errorf("lock withdrawal: %w", err)
			}

			if w.Status != model.WithdrawalStatusPending {
				return ErrAlreadySettled
			}

			var coin int64
			err = tx.QueryRow(ctx,
				`SELECT coin FROM users WHERE email = $1 FOR UPDATE`,
				w.WorkerEmail,
			).Scan(&coin)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return ErrUserNotFound
				}
				return fmt.Errorf("lock worker: %w", err)
			}

			if r.opts.EnforceNonNegativeBalance && coin < w.CoinAmount {
				return ErrInsufficientFunds
			}

			if _, err := tx.Exec(ctx,
				`UPDATE users SET coin = coin - $1 WHERE email = $2`,
				w.CoinAmount, w.WorkerEmail,
			); err != nil {
				return fmt.Errorf("debit worker: %w", err)
			}

			var settledAt time.Time
			err = tx.QueryRow(ctx,
				`UPDATE withdrawals SET status = $2, settled_at = now() WHERE id = $1 RETURNING settled_at`,
				id, string(model.WithdrawalStatusSuccess),
			).Scan(&settledAt)
			if err != nil {
				return fmt.Errorf("update withdrawal: %w", err)
			}

			w.Status = model.WithdrawalStatusSuccess
			w.SettledAt = &settledAt

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return &w, nil
}

// CancelWithdrawal удаляет невыплаченную заявку. Выплаченную отменить нельзя.
func (r *PostgresRepository) CancelWithdrawal(ctx context.Context, id int64) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		var status string
		err := tx.QueryRow(ctx,
			`SELECT status FROM withdrawals WHERE id = $1 FOR UPDATE`,
			id,
		).Scan(&status)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrWithdrawalNotFound
			}
			return fmt.Errorf("lock withdrawal: %w", err)
		}

		if status != string(model.WithdrawalStatusPending) {
			return ErrAlreadySettled
		}

		if _, err := tx.Exec(ctx, `DELETE FROM withdrawals WHERE id = $1`, id); err != nil {
			return fmt.Errorf("delete withdrawal: %w", err)
		}

		return nil
	})
}

func scanWithdrawals(rows pgx.Rows) ([]model.Withdrawal, error) {
	defer rows.Close()

	var res []model.Withdrawal
	for rows.Next() {
		var w model.Withdrawal
		if err := rows.Scan(&w.ID, &w.WorkerEmail, &w.CoinAmount, &w.CashAmount, &w.Status,
			&w.IdempotencyKey, &w.CreatedAt, &w.SettledAt); err != nil {
			return nil, fmt.Errorf("scan withdrawal: %w", err)
		}
		res = append(res, w)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// ListWithdrawals возвращает все заявки на вывод.
func (r *PostgresRepository) ListWithdrawals(ctx context.Context) ([]model.Withdrawal, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, worker_email, coin_amount, cash_amount, status, idempotency_key, created_at, settled_at
		 FROM withdrawals
		 ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("select withdrawals: %w", err)
	}
	return scanWithdrawals(rows)
}

// ListWithdrawalsByWorker возвращает заявки конкретного исполнителя.
func (r *PostgresRepository) ListWithdrawalsByWorker(ctx context.Context, workerEmail string) ([]model.Withdrawal, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, worker_email, coin_amount, cash_amount, status, idempotency_key, created_at, settled_at
		 FROM withdrawals
		 WHERE worker_email = $1
		 ORDER BY created_at DESC`,
		workerEmail,
	)
	if err != nil {
		return nil, fmt.Errorf("select withdrawals by worker: %w", err)
	}
	return scanWithdrawals(rows)
}

// TopUp зачисляет плательщику монеты и добавляет запись об оплате.
// Это единственная точка ввода монет в систему.
func (r *PostgresRepository) TopUp(ctx context.Context, payerEmail string, coins int64, price decimal.Decimal, intentID string) (*model.Payment, error) {
	var p model.Payment

	err := r.withRetry(ctx, func(ctx context.Context) error {
		return r.inTx(ctx, func(tx pgx.Tx) error {
			tag, err := tx.Exec(ctx,
				`UPDATE users SET coin = coin + $1 WHERE email = $2`,
				coins, payerEmail,
			)
			if err != nil {
				return fmt.Errorf("credit payer: %w", err)
			}
			if tag.RowsAffected() == 0 {
				return ErrUserNotFound
			}

			p = model.Payment{
				PayerEmail: payerEmail,
				Price:      price,
				Coins:      coins,
				IntentID:   intentID,
			}

			err = tx.QueryRow(ctx,
				`INSERT INTO payments (payer_email, price, coins, intent_id)
				 VALUES ($1, $2, $3, $4)
				 RETURNING id, created_at`,
				payerEmail, price, coins, intentID,
			).Scan(&p.ID, &p.CreatedAt)
			if err != nil {
				return fmt.Errorf("insert payment: %w", err)
			}

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return &p, nil
}

// ListPaymentsByPayer возвращает историю пополнений пользователя.
func (r *PostgresRepository) ListPaymentsByPayer(ctx context.Context, payerEmail string) ([]model.Payment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, payer_email, price, coins, intent_id, created_at
		 FROM payments
		 WHERE payer_email = $1
		 ORDER BY created_at DESC`,
		payerEmail,
	)
	if err != nil {
		return nil, fmt.Errorf("select payments: %w", err)
	}
	defer rows.Close()

	var res []model.Payment
	for rows.Next() {
		var p model.Payment
		if err := rows.Scan(&p.ID, &p.PayerEmail, &p.Price, &p.Coins, &p.IntentID, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		res = append(res, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// CreateNotification сохраняет уведомление в статусе unread.
func (r *PostgresRepository) CreateNotification(ctx context.Context, recipient, message string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO notifications (recipient, message) VALUES ($1, $2)`,
		recipient, message,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// ListNotifications возвращает уведомления получателя.
func (r *PostgresRepository) ListNotifications(ctx context.Context, recipient string) ([]model.Notification, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, recipient, message, status, created_at
		 FROM notifications
		 WHERE recipient = $1
		 ORDER BY created_at DESC`,
		recipient,
	)
	if err != nil {
		return nil, fmt.Errorf("select notifications: %w", err)
	}
	defer rows.Close()

	var res []model.Notification
	for rows.Next() {
		var n model.Notification
		if err := rows.Scan(&n.ID, &n.Recipient, &n.Message, &n.Status, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		res = append(res, n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// MarkNotificationRead помечает уведомление прочитанным.
func (r *PostgresRepository) MarkNotificationRead(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE notifications SET status = $2 WHERE id = $1`,
		id, string(model.NotificationStatusRead),
	)
	if err != nil {
		return fmt.Errorf("update notification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

// AdminTotals возвращает сводку по площадке: пользователи, монеты в обороте,
// суммарный объём пополнений.
func (r *PostgresRepository) AdminTotals(ctx context.Context) (*model.AdminTotals, error) {
	var t model.AdminTotals

	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(SUM(coin), 0) FROM users`,
	).Scan(&t.TotalUsers, &t.TotalCoin)
	if err != nil {
		return nil, fmt.Errorf("sum users: %w", err)
	}

	err = r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(price), 0) FROM payments`,
	).Scan(&t.TotalPayment)
	if err != nil {
		return nil, fmt.Errorf("sum payments: %w", err)
	}

	return &t, nil
}

// WorkerStats возвращает сводку по исполнителю: баланс, количество сданных
// работ и заработок по одобренным.
func (r *PostgresRepository) WorkerStats(ctx context.Context, email string) (*model.WorkerStats, error) {
	var s model.WorkerStats

	err := r.pool.QueryRow(ctx, `SELECT coin FROM users WHERE email = $1`, email).Scan(&s.AvailableCoin)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get worker coin: %w", err)
	}

	err = r.pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(payable) FILTER (WHERE status = $2), 0)
		 FROM submissions
		 WHERE worker_email = $1`,
		email, string(model.SubmissionStatusApproved),
	).Scan(&s.Submissions, &s.TotalEarning)
	if err != nil {
		return nil, fmt.Errorf("sum submissions: %w", err)
	}

	return &s, nil
}

// CreatorStats возвращает сводку по создателю: баланс, несданные места по его
// заданиям и суммарные пополнения.
func (r *PostgresRepository) CreatorStats(ctx context.Context, email string) (*model.CreatorStats, error) {
	var s model.CreatorStats

	err := r.pool.QueryRow(ctx, `SELECT coin FROM users WHERE email = $1`, email).Scan(&s.AvailableCoin)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get creator coin: %w", err)
	}

	err = r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(remaining), 0) FROM tasks WHERE creator_email = $1`,
		email,
	).Scan(&s.PendingSlots)
	if err != nil {
		return nil, fmt.Errorf("sum remaining: %w", err)
	}

	err = r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(price), 0) FROM payments WHERE payer_email = $1`,
		email,
	).Scan(&s.TotalPaid)
	if err != nil {
		return nil, fmt.Errorf("sum paid: %w", err)
	}

	return &s, nil
}

// TopWorkers возвращает исполнителей с наибольшим балансом монет.
func (r *PostgresRepository) TopWorkers(ctx context.Context, limit int) ([]model.TopWorker, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT email, name, photo_url, coin
		 FROM users
		 WHERE role = $1
		 ORDER BY coin DESC
		 LIMIT $2`,
		string(model.RoleWorker), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select top workers: %w", err)
	}
	defer rows.Close()

	var res []model.TopWorker
	for rows.Next() {
		var w model.TopWorker
		if err := rows.Scan(&w.Email, &w.Name, &w.PhotoURL, &w.Coin); err != nil {
			return nil, fmt.Errorf("scan top worker: %w", err)
		}
		res = append(res, w)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
