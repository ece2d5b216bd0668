package app

import (
	"context"
	"strings"
	"time"

	"github.com/ayoubkefii/e-learning/internal/domain"
	"github.com/google/uuid"
)

// CertificateIssuer issues certificates for passing submissions.
type CertificateIssuer struct {
	numbers func() string
	now     func() time.Time
}

func NewCertificateIssuer() *CertificateIssuer {
	return &CertificateIssuer{numbers: NewCertificateNumber, now: time.Now}
}

// NewCertificateIssuerWithClock is test-only for deterministic numbers and timestamps.
func NewCertificateIssuerWithClock(numbers func() string, now func() time.Time) *CertificateIssuer {
	return &CertificateIssuer{numbers: numbers, now: now}
}

// NewCertificateNumber returns an opaque number such as CERT-9F1C2A....
func NewCertificateNumber() string {
	return "CERT-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
}

// IssueIfAbsent issues a certificate for (user, course, quiz) unless one exists.
// The returned bool is true when a new certificate was written.
func (i *CertificateIssuer) IssueIfAbsent(ctx context.Context, store CertificateStore, userID, courseID, quizID int64) (domain.Certificate, bool, error) {
	return store.InsertCertificateIfAbsent(ctx, domain.Certificate{
		UserID:   userID,
		CourseID: courseID,
		QuizID:   quizID,
		Number:   i.numbers(),
		IssuedAt: i.now().UTC(),
	})
}
