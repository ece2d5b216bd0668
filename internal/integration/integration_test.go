package integration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ayoubkefii/e-learning/internal/app"
	"github.com/ayoubkefii/e-learning/internal/domain"
	"github.com/ayoubkefii/e-learning/internal/infra/postgres"
	pgmigrations "github.com/ayoubkefii/e-learning/internal/infra/postgres/migrations"
	infraredis "github.com/ayoubkefii/e-learning/internal/infra/redis"
	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	quizID      = 1
	staleQuizID = 2
	courseID    = 1
	alice       = 100
	bob         = 200
)

var passingAnswers = []domain.AnswerSubmission{
	{QuestionID: 10, SelectedAnswerID: 101},
	{QuestionID: 11, SelectedAnswerID: 110},
}

func TestAttemptLifecycleEndToEnd(t *testing.T) {
	ctx := context.Background()
	service, db := newService(t, ctx)

	attempt, err := service.StartAttempt(ctx, alice, quizID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !attempt.Open() || attempt.Score != nil {
		t.Fatalf("expected open attempt, got %+v", attempt)
	}
	again, err := service.StartAttempt(ctx, alice, quizID)
	if err != nil || again.ID != attempt.ID {
		t.Fatalf("expected same open attempt %d, got %+v err=%v", attempt.ID, again, err)
	}

	// Foreign answer is rejected and nothing is written.
	_, err = service.SubmitAttempt(ctx, alice, attempt.ID, []domain.AnswerSubmission{{QuestionID: 10, SelectedAnswerID: 110}})
	if !errors.Is(err, domain.ErrAnswerNotInQuestion) {
		t.Fatalf("expected answer not in question, got %v", err)
	}
	if n := count(t, ctx, db, "SELECT COUNT(*) FROM quiz_answers"); n != 0 {
		t.Fatalf("expected no recorded answers, got %d", n)
	}

	outcome, err := service.SubmitAttempt(ctx, alice, attempt.ID, passingAnswers)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if *outcome.Attempt.Score != 100 || !outcome.Attempt.Passed || outcome.Attempt.Open() {
		t.Fatalf("expected closed passing attempt, got %+v", outcome.Attempt)
	}
	if outcome.Certificate == nil || !strings.HasPrefix(outcome.Certificate.Number, "CERT-") {
		t.Fatalf("expected certificate, got %+v", outcome.Certificate)
	}
	if outcome.Certificate.CourseID != courseID {
		t.Fatalf("expected course %d resolved through lesson and module, got %d", courseID, outcome.Certificate.CourseID)
	}

	_, err = service.SubmitAttempt(ctx, alice, attempt.ID, passingAnswers)
	if !errors.Is(err, domain.ErrAttemptClosed) {
		t.Fatalf("expected attempt closed, got %v", err)
	}

	// Retake: a new attempt is opened and passing again keeps the same certificate.
	retake, err := service.StartAttempt(ctx, alice, quizID)
	if err != nil || retake.ID == attempt.ID {
		t.Fatalf("expected new attempt, got %+v err=%v", retake, err)
	}
	second, err := service.SubmitAttempt(ctx, alice, retake.ID, passingAnswers)
	if err != nil {
		t.Fatalf("submit retake: %v", err)
	}
	if second.Certificate == nil || second.Certificate.Number != outcome.Certificate.Number {
		t.Fatalf("expected existing certificate, got %+v", second.Certificate)
	}

	history, err := service.ListAttempts(ctx, alice, quizID)
	if err != nil {
		t.Fatalf("list attempts: %v", err)
	}
	if len(history) != 2 || history[0].ID != retake.ID {
		t.Fatalf("expected newest first, got %+v", history)
	}
	if history[1].CorrectAnswers != 2 || history[1].TotalAnswers != 2 {
		t.Fatalf("unexpected answer counts %+v", history[1])
	}

	certs, err := service.ListCertificates(ctx, alice)
	if err != nil || len(certs) != 1 {
		t.Fatalf("expected one certificate, got %+v err=%v", certs, err)
	}

	_, err = service.SubmitAttempt(ctx, bob, retake.ID, passingAnswers)
	if !errors.Is(err, domain.ErrAttemptNotFound) {
		t.Fatalf("expected not found for other user, got %v", err)
	}
}

func TestConcurrentStartAndSubmit(t *testing.T) {
	ctx := context.Background()
	service, db := newService(t, ctx)

	const callers = 12
	ids := make([]int64, callers)
	var g errgroup.Group
	for i := 0; i < callers; i++ {
		i := i
		g.Go(func() error {
			attempt, err := service.StartAttempt(ctx, bob, quizID)
			ids[i] = attempt.ID
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent start: %v", err)
	}
	for _, id := range ids {
		if id != ids[0] {
			t.Fatalf("expected one open attempt, got ids %v", ids)
		}
	}

	var succeeded, closed atomic.Int32
	var submits errgroup.Group
	for i := 0; i < callers; i++ {
		submits.Go(func() error {
			_, err := service.SubmitAttempt(ctx, bob, ids[0], passingAnswers)
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, domain.ErrAttemptClosed):
				closed.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	if err := submits.Wait(); err != nil {
		t.Fatalf("concurrent submit: %v", err)
	}
	if succeeded.Load() != 1 || closed.Load() != callers-1 {
		t.Fatalf("expected exactly one scoring, got succeeded=%d closed=%d", succeeded.Load(), closed.Load())
	}
	if n := count(t, ctx, db, "SELECT COUNT(*) FROM quiz_answers"); n != len(passingAnswers) {
		t.Fatalf("expected %d recorded answers, got %d", len(passingAnswers), n)
	}
	if n := count(t, ctx, db, "SELECT COUNT(*) FROM certificates"); n != 1 {
		t.Fatalf("expected one certificate, got %d", n)
	}
}

func TestSubmitRollsBackWhenCertificateFails(t *testing.T) {
	ctx := context.Background()
	keys, db := newStack(t, ctx)
	service := app.NewAttemptService(keys, postgres.NewStore(db), nil, zap.NewNop())
	faulty := app.NewAttemptService(keys, failingCertificatesUnitOfWork{postgres.NewStore(db)}, nil, zap.NewNop())

	attempt, err := service.StartAttempt(ctx, alice, quizID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	_, err = faulty.SubmitAttempt(ctx, alice, attempt.ID, passingAnswers)
	if domain.KindOf(err) != domain.KindStorageFailure {
		t.Fatalf("expected storage failure, got %v", err)
	}
	if n := count(t, ctx, db, "SELECT COUNT(*) FROM quiz_attempts WHERE completed_at IS NULL AND score IS NULL"); n != 1 {
		t.Fatalf("expected attempt left open, got %d open attempts", n)
	}
	if n := count(t, ctx, db, "SELECT COUNT(*) FROM quiz_answers"); n != 0 {
		t.Fatalf("expected no recorded answers, got %d", n)
	}
	if n := count(t, ctx, db, "SELECT COUNT(*) FROM certificates"); n != 0 {
		t.Fatalf("expected no certificate, got %d", n)
	}

	outcome, err := service.SubmitAttempt(ctx, alice, attempt.ID, passingAnswers)
	if err != nil {
		t.Fatalf("retry submit: %v", err)
	}
	if outcome.Attempt.ID != attempt.ID || outcome.Certificate == nil {
		t.Fatalf("expected the same attempt to pass on retry, got %+v", outcome)
	}
}

func TestStartAttemptForQuizDeletedAfterCaching(t *testing.T) {
	ctx := context.Background()
	keys, db := newStack(t, ctx)
	service := app.NewAttemptService(keys, postgres.NewStore(db), nil, zap.NewNop())

	if _, err := keys.GetAnswerKey(ctx, staleQuizID); err != nil {
		t.Fatalf("warm cache: %v", err)
	}
	if _, err := db.ExecContext(ctx, "DELETE FROM quizzes WHERE id = ?", staleQuizID); err != nil {
		t.Fatalf("delete quiz: %v", err)
	}

	_, err := service.StartAttempt(ctx, alice, staleQuizID)
	if !errors.Is(err, domain.ErrQuizNotFound) || domain.KindOf(err) != domain.KindNotFound {
		t.Fatalf("expected quiz not found, got %v", err)
	}
	if n := count(t, ctx, db, "SELECT COUNT(*) FROM quiz_attempts"); n != 0 {
		t.Fatalf("expected no attempt, got %d", n)
	}
}

// failingCertificatesUnitOfWork runs on Postgres but fails every certificate write.
type failingCertificatesUnitOfWork struct {
	*postgres.Store
}

func (u failingCertificatesUnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context, stores app.Stores) error) error {
	return u.Store.RunInTx(ctx, func(ctx context.Context, stores app.Stores) error {
		stores.Certificates = failingCertificates{stores.Certificates}
		return fn(ctx, stores)
	})
}

type failingCertificates struct {
	app.CertificateStore
}

func (failingCertificates) InsertCertificateIfAbsent(context.Context, domain.Certificate) (domain.Certificate, bool, error) {
	return domain.Certificate{}, false, domain.StorageFailure("insert certificate", errors.New("disk full"))
}

func newService(t *testing.T, ctx context.Context) (*app.AttemptService, *bun.DB) {
	t.Helper()
	keys, db := newStack(t, ctx)
	return app.NewAttemptService(keys, postgres.NewStore(db), nil, zap.NewNop()), db
}

// newStack starts Postgres and Redis and returns the Redis-backed answer keys.
func newStack(t *testing.T, ctx context.Context) (app.AnswerKeyRepository, *bun.DB) {
	t.Helper()
	requireDocker(t)

	pgURL := startPostgres(t, ctx)
	redisURL := startRedis(t, ctx)

	db := postgres.OpenDB(pgURL)
	t.Cleanup(func() { _ = db.Close() })
	migrateAndSeed(t, ctx, db)

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	t.Cleanup(pool.Close)

	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		t.Fatalf("redis url: %v", err)
	}
	redisClient := goredis.NewClient(opts)
	t.Cleanup(func() { _ = redisClient.Close() })

	return infraredis.NewAnswerKeyCache(redisClient, postgres.NewAnswerKeyLoader(pool), 5*time.Minute), db
}

func startPostgres(t *testing.T, ctx context.Context) string {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "elearning", "POSTGRES_PASSWORD": "elearningpass", "POSTGRES_DB": "elearning"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	return fmt.Sprintf("postgres://elearning:elearningpass@%s:%s/elearning?sslmode=disable", host, port.Port())
}

func startRedis(t *testing.T, ctx context.Context) string {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	return fmt.Sprintf("redis://%s:%s", host, port.Port())
}

const seedSQL = `
INSERT INTO courses (id, user_id, title) VALUES (1, 1, 'Go fundamentals');
INSERT INTO modules (id, course_id, title) VALUES (1, 1, 'Basics');
INSERT INTO lessons (id, module_id, title) VALUES (1, 1, 'Arithmetic');
INSERT INTO quizzes (id, lesson_id, title, passing_score) VALUES
    (1, 1, 'Arithmetic quiz', 50),
    (2, 1, 'Retired quiz', 50);
INSERT INTO questions (id, quiz_id, question_text, points) VALUES
    (10, 1, 'What is 2 + 2?', 1),
    (11, 1, 'What is 3 * 3?', 3);
INSERT INTO answers (id, question_id, answer_text, is_correct) VALUES
    (100, 10, '3', FALSE),
    (101, 10, '4', TRUE),
    (110, 11, '9', TRUE),
    (111, 11, '6', FALSE);
`

func migrateAndSeed(t *testing.T, ctx context.Context, db *bun.DB) {
	t.Helper()
	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := db.ExecContext(ctx, seedSQL); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func count(t *testing.T, ctx context.Context, db *bun.DB, query string) int {
	t.Helper()
	var n int
	if err := db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
