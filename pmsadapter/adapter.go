package pmsadapter

import (
	"context"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// Adapter is the uniform contract every PMS vendor is normalized into.
// Adapters are constructed unauthenticated; callers must Authenticate
// before any data call. Capabilities a vendor lacks are declared in
// Metadata and return ErrCapabilityNotSupported when invoked anyway.
type Adapter interface {
	Authenticate(ctx context.Context) error
	GetReservation(ctx context.Context, externalId string) (*Reservation, error)
	SearchReservations(ctx context.Context, criteria SearchCriteria) (*SearchResult, error)
	GetFolio(ctx context.Context, reservationExternalId string) (*Folio, error)
	ListDocuments(ctx context.Context, reservationExternalId string) ([]DocumentInfo, error)
	FetchDocument(ctx context.Context, reservationExternalId string, documentId string) (*Document, error)
	PushCaseUpdate(ctx context.Context, caseRef string, status string) error
	SubscribeWebhook(ctx context.Context, callbackURL string, secret string) error
	Metadata() Metadata
}

// Metadata is static per vendor type and safe to serve without credentials.
type Metadata struct {
	VendorType        string   `json:"vendorType"`
	DisplayName       string   `json:"displayName"`
	AuthType          string   `json:"authType"`
	SupportsWebhooks  bool     `json:"supportsWebhooks"`
	SupportsPush      bool     `json:"supportsPush"`
	SupportsDocuments bool     `json:"supportsDocuments"`
	Features          []string `json:"features"`
}

// Config carries everything a constructor needs. Credentials keys are
// per-vendor (api_key, client_id/client_secret, username/password).
type Config struct {
	BaseURL      string
	Credentials  map[string]string
	PropertyId   string
	PropertyCode string
	Timeout      time.Duration
	HTTPClient   *http.Client
}

func (c Config) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

type SearchCriteria struct {
	ConfirmationNumber string
	GuestName          string
	CardLastFour       string
	CheckInFrom        *time.Time
	CheckInTo          *time.Time
	UpdatedSince       string
	Cursor             string
	Limit              int
}

type SearchResult struct {
	Reservations []Reservation
	NextCursor   string
	HasMore      bool
}

// Reservation is the wire-level canonical shape adapters translate into.
type Reservation struct {
	ExternalId         string
	ConfirmationNumber string
	GuestName          string
	GuestEmail         string
	GuestPhone         string
	CheckInDate        time.Time
	CheckOutDate       time.Time
	ActualCheckIn      *time.Time
	ActualCheckOut     *time.Time
	RoomNumber         string
	RoomType           string
	RateCode           string
	RateAmount         decimal.Decimal
	TotalAmount        decimal.Decimal
	Currency           string
	CardBrand          string
	CardLastFour       string
	BookingSource      string
	Status             string
	UpdatedAt          time.Time
}

type Folio struct {
	ReservationExternalId string
	ReportedBalance       decimal.Decimal
	Currency              string
	Lines                 []FolioLine
}

type FolioLine struct {
	PostingDate     time.Time
	Category        string
	Description     string
	Amount          decimal.Decimal
	TransactionCode string
	AuthCode        string
	Currency        string
}

type DocumentInfo struct {
	DocumentId  string
	Type        string
	Name        string
	ContentType string
}

type Document struct {
	DocumentInfo
	Data      []byte
	FetchedAt time.Time
}
