package declarations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/contadesk/contadesk/internal/activity"
	"github.com/contadesk/contadesk/internal/identity"
	"github.com/contadesk/contadesk/internal/shared"
)

// ImportModule is the idempotency and activity module for imports.
const ImportModule = "accounting"

// ImportRoles may run imports and read declarations.
var ImportRoles = []identity.Role{identity.RoleAdmin, identity.RoleContador}

// Repository reads and writes monthly declarations.
type Repository interface {
	Get(ctx context.Context, key PeriodKey) (MonthlyDeclaration, error)
	// WithPeriodLock runs fn in a transaction that serialises writers of key.
	WithPeriodLock(ctx context.Context, key PeriodKey, fn func(context.Context, TxRepository) error) error
}

// TxRepository is available inside WithPeriodLock.
type TxRepository interface {
	Find(ctx context.Context, key PeriodKey) (MonthlyDeclaration, bool, error)
	Upsert(ctx context.Context, d MonthlyDeclaration) (MonthlyDeclaration, bool, error)
}

// ActivityRecorder appends activity events.
type ActivityRecorder interface {
	Record(ctx context.Context, event activity.Event) error
}

// Directory resolves display names for activity descriptions.
type Directory interface {
	ClientName(ctx context.Context, clientID string) (string, error)
	UserName(ctx context.Context, userID string) (string, error)
}

// IdempotencyGuard rejects replayed import requests.
type IdempotencyGuard interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// Metrics receives import counters.
type Metrics interface {
	ImportFinished(outcome string)
	FileParsed(category string, rows int, missingTotal, missingSubtotal, missingIVA int)
	ActivityFailed()
}

type noopMetrics struct{}

func (noopMetrics) ImportFinished(string)                 {}
func (noopMetrics) FileParsed(string, int, int, int, int) {}
func (noopMetrics) ActivityFailed()                       {}

// ServiceConfig bundles optional collaborators.
type ServiceConfig struct {
	Directory   Directory
	Idempotency IdempotencyGuard
	Metrics     Metrics
	Logger      *slog.Logger

	// MaxFiles caps the uploads per batch. Zero means unlimited.
	MaxFiles int
}

// Service runs declaration imports.
type Service struct {
	repo        Repository
	activity    ActivityRecorder
	directory   Directory
	idempotency IdempotencyGuard
	metrics     Metrics
	logger      *slog.Logger
	maxFiles    int
	validate    *validator.Validate
	now         func() time.Time
}

// NewService constructs the import service.
func NewService(repo Repository, recorder ActivityRecorder, cfg ServiceConfig) *Service {
	svc := &Service{
		repo:        repo,
		activity:    recorder,
		directory:   cfg.Directory,
		idempotency: cfg.Idempotency,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		maxFiles:    cfg.MaxFiles,
		validate:    validator.New(),
		now:         time.Now,
	}
	if svc.metrics == nil {
		svc.metrics = noopMetrics{}
	}
	if svc.logger == nil {
		svc.logger = slog.Default()
	}
	return svc
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Get returns the stored declaration of a period.
func (s *Service) Get(ctx context.Context, key PeriodKey) (MonthlyDeclaration, error) {
	if err := authorize(ctx); err != nil {
		return MonthlyDeclaration{}, err
	}
	return s.repo.Get(ctx, key)
}

// Import parses the uploaded workbooks, reconciles them with the stored
// declaration of the period and persists the result once.
func (s *Service) Import(ctx context.Context, req ImportRequest) (ImportResult, error) {
	res, err := s.runImport(ctx, req)
	s.metrics.ImportFinished(outcomeOf(err))
	return res, err
}

func (s *Service) runImport(ctx context.Context, req ImportRequest) (ImportResult, error) {
	if err := authorize(ctx); err != nil {
		return ImportResult{}, err
	}
	if err := s.validateRequest(req); err != nil {
		return ImportResult{}, err
	}
	if s.idempotency != nil && req.IdempotencyKey != "" {
		if err := s.idempotency.CheckAndInsert(ctx, req.IdempotencyKey, ImportModule); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return ImportResult{}, ErrDuplicateImport
			}
			return ImportResult{}, fmt.Errorf("declarations: idempotency: %w", err)
		}
	}

	res, err := s.importBatch(ctx, req)
	if err != nil {
		if s.idempotency != nil && req.IdempotencyKey != "" {
			if derr := s.idempotency.Delete(context.WithoutCancel(ctx), req.IdempotencyKey, ImportModule); derr != nil {
				s.logger.Warn("release idempotency key", slog.Any("error", derr))
			}
		}
		return ImportResult{}, err
	}

	res.Audited = s.recordActivity(ctx, req, res)
	return res, nil
}

func (s *Service) importBatch(ctx context.Context, req ImportRequest) (ImportResult, error) {
	files, err := s.parseFiles(ctx, req.Files)
	if err != nil {
		return ImportResult{}, err
	}
	agg := Aggregate(files)
	key := req.Key()

	var outcome MergeOutcome
	var created bool
	err = s.repo.WithPeriodLock(ctx, key, func(ctx context.Context, tx TxRepository) error {
		existing, found, err := tx.Find(ctx, key)
		if err != nil {
			return err
		}
		if !found {
			existing = MonthlyDeclaration{ClientID: key.ClientID, Year: key.Year, Month: key.Month}
		}
		outcome = Merge(existing, agg)
		saved, inserted, err := tx.Upsert(ctx, outcome.Declaration)
		if err != nil {
			return err
		}
		outcome.Declaration = saved
		created = inserted
		return nil
	})
	if err != nil {
		return ImportResult{}, fmt.Errorf("declarations: persist %s: %w", key, err)
	}

	for _, d := range outcome.Discarded {
		s.logger.Warn("computed figure discarded by precedence",
			slog.String("period", key.String()),
			slog.String("field", d.Field),
			slog.String("source", d.Source),
			slog.String("value", d.Value.StringFixed(2)))
	}

	return ImportResult{
		ImportID:    uuid.New(),
		Declaration: outcome.Declaration,
		Aggregate:   agg,
		Files:       files,
		Decisions:   outcome.Decisions,
		Discarded:   outcome.Discarded,
		Created:     created,
	}, nil
}

// parseFiles reads every upload concurrently. The first failure aborts the
// whole batch.
func (s *Service) parseFiles(ctx context.Context, uploads []Upload) ([]ParsedFileResult, error) {
	results := make([]ParsedFileResult, len(uploads))
	g, ctx := errgroup.WithContext(ctx)
	for i, up := range uploads {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := parseUpload(up)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for _, r := range results {
		s.metrics.FileParsed(string(r.Category), r.Rows, r.Missing.Total, r.Missing.Subtotal, r.Missing.IVA)
	}
	return results, nil
}

func parseUpload(up Upload) (ParsedFileResult, error) {
	rc, err := up.Open()
	if err != nil {
		return ParsedFileResult{}, fmt.Errorf("declarations: open upload %q: %w", up.Name, err)
	}
	defer func() { _ = rc.Close() }()
	rows, err := ParseWorkbook(up.Name, rc)
	if err != nil {
		return ParsedFileResult{}, err
	}
	category := Classify(up.Name)
	return ExtractFile(up.Name, category, rows), nil
}

func (s *Service) validateRequest(req ImportRequest) error {
	err := s.validate.Struct(req)
	if err == nil {
		if s.maxFiles > 0 && len(req.Files) > s.maxFiles {
			return fmt.Errorf("%w: at most %d files per import", ErrInvalidRequest, s.maxFiles)
		}
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, describeFieldError(fe))
	}
	return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(msgs, "; "))
}

func describeFieldError(fe validator.FieldError) string {
	field := requestFieldNames[fe.StructField()]
	if field == "" {
		field = fe.Field()
	}
	switch fe.Tag() {
	case "required":
		if fe.StructField() == "Files" {
			return "at least one file is required"
		}
		return field + " is required"
	case "min", "max", "gte", "lte":
		return field + " is out of range"
	default:
		return field + " is invalid"
	}
}

var requestFieldNames = map[string]string{
	"ClientID": "clientId",
	"Year":     "year",
	"Month":    "month",
	"UserID":   "userId",
	"Files":    "files",
	"Name":     "file name",
	"Open":     "file content",
}

func authorize(ctx context.Context) error {
	p := identity.PrincipalFromContext(ctx)
	if p == nil {
		return ErrUnauthenticated
	}
	if !p.HasAnyRole(ImportRoles...) {
		return ErrForbidden
	}
	return nil
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid"
	case errors.Is(err, ErrUnauthenticated), errors.Is(err, ErrForbidden):
		return "denied"
	case errors.Is(err, ErrUnreadableWorkbook):
		return "parse_error"
	case errors.Is(err, ErrDuplicateImport):
		return "duplicate"
	default:
		return "error"
	}
}

var monthNames = [...]string{
	"enero", "febrero", "marzo", "abril", "mayo", "junio",
	"julio", "agosto", "septiembre", "octubre", "noviembre", "diciembre",
}

// MonthName returns the capitalised Spanish name of month (1..12).
func MonthName(month int) string {
	if month < 1 || month > 12 {
		return fmt.Sprintf("mes %d", month)
	}
	return cases.Title(language.Spanish).String(monthNames[month-1])
}
