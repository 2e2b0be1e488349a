// Package reports implements the submission and listing of illegal
// dumping reports.
package reports

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/apex/log"
	"github.com/oklog/ulid/v2"

	"olhovivo/image"
	"olhovivo/metrics"
	"olhovivo/models"
	"olhovivo/storage"
)

const (
	maxNameLength        = 255
	maxPhoneLength       = 32
	maxDescriptionLength = 2000

	cleanupTimeout = 15 * time.Second
	publishTimeout = 5 * time.Second
)

// Failure stages, also used as metric labels.
const (
	StageValidation = "validation"
	StageImage      = "image"
	StageUpload     = "upload"
	StageStorage    = "storage"
)

// ErrValidation matches every *ValidationError.
var ErrValidation = errors.New("validation failed")

// ValidationError is a problem with the submitted data that the submitter
// can fix.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// SubmissionError is a failure after validation. Nothing is stored.
type SubmissionError struct {
	Stage string
	Err   error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// Submission is a report as received from the form. Coordinates arrive as
// text and are validated here.
type Submission struct {
	Name        string
	Phone       string
	Description string
	Latitude    string
	Longitude   string
	Accuracy    string
	Consent     bool
	Photo       []byte
}

type Store interface {
	CreateReport(ctx context.Context, r *models.Report) error
	ListReports(ctx context.Context) ([]models.Report, error)
	ListReportsInViewPort(ctx context.Context, vp models.ViewPort) ([]models.Report, error)
}

type EventPublisher interface {
	PublishReportCreated(ctx context.Context, event models.ReportEvent) error
}

type Broadcaster interface {
	BroadcastReport(report models.PublicReport)
}

type Options struct {
	Folder         string
	RequireConsent bool
	// Publisher and Broadcaster are optional.
	Publisher   EventPublisher
	Broadcaster Broadcaster
}

type Service struct {
	store     Store
	host      storage.ImageHost
	processor *image.Processor
	opts      Options
	now       func() time.Time
}

func NewService(store Store, host storage.ImageHost, processor *image.Processor, opts Options) *Service {
	return &Service{
		store:     store,
		host:      host,
		processor: processor,
		opts:      opts,
		now:       time.Now,
	}
}

// Create validates the submission, hosts its photo and stores the report.
// Either the report is stored with its photo or nothing is left behind.
func (s *Service) Create(ctx context.Context, sub Submission) (*models.Report, error) {
	report, err := s.validate(sub)
	if err != nil {
		metrics.SubmissionFailuresTotal.WithLabelValues(StageValidation).Inc()
		return nil, err
	}

	processed, err := s.processor.Process(sub.Photo)
	if errors.Is(err, image.ErrNotImage) {
		metrics.SubmissionFailuresTotal.WithLabelValues(StageValidation).Inc()
		return nil, &ValidationError{Field: "photo", Message: "A foto enviada não é uma imagem válida"}
	}
	if err != nil {
		return nil, s.fail(StageImage, err)
	}

	now := s.now().UTC()
	obj, err := s.host.Upload(ctx, storage.NewKey(s.opts.Folder, now), processed.Data, processed.ContentType)
	if err != nil {
		return nil, s.fail(StageUpload, err)
	}

	report.ID = ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
	report.PhotoURL = obj.URL
	report.PhotoKey = obj.Key
	report.Status = models.StatusPending
	report.CreatedAt = now

	if err := s.store.CreateReport(ctx, report); err != nil {
		s.removeUpload(ctx, obj)
		return nil, s.fail(StageStorage, err)
	}

	metrics.ReportsCreatedTotal.Inc()
	log.WithFields(log.Fields{
		"id":    report.ID,
		"seq":   report.Seq,
		"photo": obj.Key,
	}).Info("Report created")

	s.announce(ctx, report)
	return report, nil
}

func (s *Service) fail(stage string, err error) error {
	metrics.SubmissionFailuresTotal.WithLabelValues(stage).Inc()
	log.WithField("stage", stage).Errorf("Report submission failed: %v", err)
	return &SubmissionError{Stage: stage, Err: err}
}

// removeUpload deletes a photo whose report could not be stored. It runs
// even when the request was canceled.
func (s *Service) removeUpload(ctx context.Context, obj *storage.Object) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := s.host.Delete(ctx, obj.Key); err != nil {
		metrics.OrphanedUploadsTotal.Inc()
		log.WithField("photo", obj.Key).Errorf("Failed to remove orphaned upload: %v", err)
	}
}

func (s *Service) announce(ctx context.Context, r *models.Report) {
	if s.opts.Publisher != nil {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
		err := s.opts.Publisher.PublishReportCreated(pctx, models.ReportEvent{
			ID:        r.ID,
			Latitude:  r.Latitude,
			Longitude: r.Longitude,
			PhotoURL:  r.PhotoURL,
			CreatedAt: r.CreatedAt,
		})
		cancel()
		if err != nil {
			log.WithField("id", r.ID).Warnf("Failed to publish report event: %v", err)
		}
	}
	if s.opts.Broadcaster != nil {
		s.opts.Broadcaster.BroadcastReport(r.Public())
	}
}

// List returns every report, newest first, without contact data.
func (s *Service) List(ctx context.Context) ([]models.PublicReport, error) {
	reports, err := s.store.ListReports(ctx)
	if err != nil {
		return nil, err
	}
	return public(reports), nil
}

// ListInViewPort returns the reports around a map viewport, newest first.
func (s *Service) ListInViewPort(ctx context.Context, vp models.ViewPort) ([]models.PublicReport, error) {
	reports, err := s.store.ListReportsInViewPort(ctx, vp)
	if err != nil {
		return nil, err
	}
	return public(reports), nil
}

func public(reports []models.Report) []models.PublicReport {
	out := make([]models.PublicReport, 0, len(reports))
	for i := range reports {
		out = append(out, reports[i].Public())
	}
	return out
}

func (s *Service) validate(sub Submission) (*models.Report, error) {
	name := strings.TrimSpace(sub.Name)
	phone := strings.TrimSpace(sub.Phone)
	description := strings.TrimSpace(sub.Description)

	var missing []string
	for _, f := range []struct{ field, value string }{
		{"name", name},
		{"phone", phone},
		{"description", description},
		{"latitude", strings.TrimSpace(sub.Latitude)},
		{"longitude", strings.TrimSpace(sub.Longitude)},
	} {
		if f.value == "" {
			missing = append(missing, f.field)
		}
	}
	if len(missing) > 0 {
		return nil, &ValidationError{
			Field:   missing[0],
			Message: "Todos os campos são obrigatórios (faltando: " + strings.Join(missing, ", ") + ")",
		}
	}
	if len(sub.Photo) == 0 {
		return nil, &ValidationError{Field: "photo", Message: "Foto obrigatória"}
	}
	if s.opts.RequireConsent && !sub.Consent {
		return nil, &ValidationError{Field: "lgpdAccepted", Message: "É necessário aceitar os termos da LGPD"}
	}

	switch {
	case utf8.RuneCountInString(name) > maxNameLength:
		return nil, &ValidationError{Field: "name", Message: fmt.Sprintf("Nome muito longo (máximo %d caracteres)", maxNameLength)}
	case utf8.RuneCountInString(phone) > maxPhoneLength:
		return nil, &ValidationError{Field: "phone", Message: fmt.Sprintf("Telefone muito longo (máximo %d caracteres)", maxPhoneLength)}
	case utf8.RuneCountInString(description) > maxDescriptionLength:
		return nil, &ValidationError{Field: "description", Message: fmt.Sprintf("Descrição muito longa (máximo %d caracteres)", maxDescriptionLength)}
	}

	lat, err := parseCoordinate(sub.Latitude, 90)
	if err != nil {
		return nil, &ValidationError{Field: "latitude", Message: "Latitude inválida"}
	}
	lng, err := parseCoordinate(sub.Longitude, 180)
	if err != nil {
		return nil, &ValidationError{Field: "longitude", Message: "Longitude inválida"}
	}

	report := &models.Report{
		Name:        name,
		Phone:       phone,
		Description: description,
		Latitude:    lat,
		Longitude:   lng,
		Consent:     sub.Consent,
	}
	if acc := strings.TrimSpace(sub.Accuracy); acc != "" {
		v, err := strconv.ParseFloat(acc, 64)
		if err != nil || v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, &ValidationError{Field: "accuracy", Message: "Precisão inválida"}
		}
		report.Accuracy = &v
	}
	return report, nil
}

func parseCoordinate(s string, limit float64) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || v < -limit || v > limit {
		return 0, fmt.Errorf("coordinate %v out of range", v)
	}
	return v, nil
}
