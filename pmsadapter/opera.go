package pmsadapter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const VendorOpera = "OPERA"

var operaMetadata = Metadata{
	VendorType:        VendorOpera,
	DisplayName:       "Oracle OPERA Cloud",
	AuthType:          "oauth2",
	SupportsWebhooks:  true,
	SupportsPush:      true,
	SupportsDocuments: true,
	Features:          []string{"reservations", "folios", "documents", "webhooks", "case_push"},
}

func init() {
	Register(VendorOpera, operaMetadata, newOperaAdapter)
}

type operaAdapter struct {
	client        *restClient
	oauth         *clientcredentials.Config
	baseCtx       context.Context
	propertyCode  string
	authenticated bool
}

func newOperaAdapter(cfg Config) (Adapter, error) {
	clientId := strings.TrimSpace(cfg.Credentials["client_id"])
	clientSecret := strings.TrimSpace(cfg.Credentials["client_secret"])
	if clientId == "" || clientSecret == "" {
		return nil, errors.New("opera: client_id and client_secret credentials are required")
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = envOrDefault("OPERA_API_BASE_URL", "https://api.opera-cloud.com")
	}
	tokenURL := strings.TrimSpace(cfg.Credentials["token_url"])
	if tokenURL == "" {
		tokenURL = strings.TrimRight(baseURL, "/") + "/oauth/v1/tokens"
	}

	oauthCfg := &clientcredentials.Config{
		ClientID:     clientId,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
	}

	// The oauth2 transport injects and refreshes the bearer token; the
	// underlying client keeps the configured timeout.
	baseCtx := context.WithValue(context.Background(), oauth2.HTTPClient, cfg.httpClient())
	cfgWithClient := cfg
	cfgWithClient.HTTPClient = oauthCfg.Client(baseCtx)

	client := newRestClient(VendorOpera, baseURL, cfgWithClient, "OPERA_RATE_LIMIT_PER_MIN", nil)
	return &operaAdapter{
		client:       client,
		oauth:        oauthCfg,
		baseCtx:      baseCtx,
		propertyCode: cfg.PropertyCode,
	}, nil
}

func (a *operaAdapter) Metadata() Metadata { return operaMetadata }

// Authenticate performs the client-credentials handshake eagerly so that
// bad credentials surface here rather than on the first data call.
func (a *operaAdapter) Authenticate(ctx context.Context) error {
	if _, err := a.oauth.Token(a.baseCtx); err != nil {
		return a.classifyTokenError(err)
	}
	a.authenticated = true
	return nil
}

func (a *operaAdapter) classifyTokenError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		code := retrieveErr.Response.StatusCode
		switch {
		case code == http.StatusUnauthorized || code == http.StatusForbidden || code == http.StatusBadRequest:
			return &AuthenticationError{VendorType: VendorOpera, Reason: strings.TrimSpace(string(retrieveErr.Body))}
		case code == http.StatusTooManyRequests:
			return &RateLimitedError{VendorType: VendorOpera, RetryAfter: parseRetryAfter(retrieveErr.Response.Header.Get("Retry-After"))}
		case code >= 500:
			return &TransientNetworkError{VendorType: VendorOpera, Err: err}
		}
	}
	return &TransientNetworkError{VendorType: VendorOpera, Err: err}
}

type operaReservation struct {
	ReservationId   string      `json:"reservationId"`
	ConfirmationNo  string      `json:"confirmationNo"`
	GuestName       string      `json:"guestName"`
	GuestEmail      string      `json:"guestEmail"`
	GuestPhone      string      `json:"guestPhone"`
	ArrivalDate     string      `json:"arrivalDate"`
	DepartureDate   string      `json:"departureDate"`
	ActualArrival   string      `json:"actualCheckInDate"`
	ActualDeparture string      `json:"actualCheckOutDate"`
	RoomNumber      string      `json:"roomNumber"`
	RoomType        string      `json:"roomType"`
	RateCode        string      `json:"ratePlanCode"`
	RateAmount      json.Number `json:"rateAmount"`
	TotalAmount     json.Number `json:"totalAmount"`
	Currency        string      `json:"currencyCode"`
	CardBrand       string      `json:"cardType"`
	CardLastFour    string      `json:"cardNumberLastFour"`
	BookingSource   string      `json:"sourceCode"`
	Status          string      `json:"reservationStatus"`
	UpdatedAt       string      `json:"lastModifiedDateTime"`
}

func (r operaReservation) toCanonical() Reservation {
	return Reservation{
		ExternalId:         strings.TrimSpace(r.ReservationId),
		ConfirmationNumber: strings.TrimSpace(r.ConfirmationNo),
		GuestName:          strings.TrimSpace(r.GuestName),
		GuestEmail:         strings.TrimSpace(r.GuestEmail),
		GuestPhone:         strings.TrimSpace(r.GuestPhone),
		CheckInDate:        parseVendorTime(r.ArrivalDate),
		CheckOutDate:       parseVendorTime(r.DepartureDate),
		ActualCheckIn:      parseVendorTimePtr(r.ActualArrival),
		ActualCheckOut:     parseVendorTimePtr(r.ActualDeparture),
		RoomNumber:         r.RoomNumber,
		RoomType:           r.RoomType,
		RateCode:           r.RateCode,
		RateAmount:         decimalFromNumber(r.RateAmount),
		TotalAmount:        decimalFromNumber(r.TotalAmount),
		Currency:           strings.ToUpper(strings.TrimSpace(r.Currency)),
		CardBrand:          r.CardBrand,
		CardLastFour:       r.CardLastFour,
		BookingSource:      r.BookingSource,
		Status:             mapReservationStatus(r.Status),
		UpdatedAt:          parseVendorTime(r.UpdatedAt),
	}
}

func (a *operaAdapter) GetReservation(ctx context.Context, externalId string) (*Reservation, error) {
	if !a.authenticated {
		return nil, ErrNotAuthenticated
	}
	var out operaReservation
	if err := a.client.getJSON(ctx, a.hotelPath("/reservations/"+url.PathEscape(externalId)), nil, &out); err != nil {
		return nil, err
	}
	reservation := out.toCanonical()
	return &reservation, nil
}

func (a *operaAdapter) SearchReservations(ctx context.Context, criteria SearchCriteria) (*SearchResult, error) {
	if !a.authenticated {
		return nil, ErrNotAuthenticated
	}
	params := url.Values{}
	if criteria.ConfirmationNumber != "" {
		params.Set("confirmationNo", criteria.ConfirmationNumber)
	}
	if criteria.GuestName != "" {
		params.Set("guestName", criteria.GuestName)
	}
	if criteria.CardLastFour != "" {
		params.Set("cardNumberLastFour", criteria.CardLastFour)
	}
	if criteria.CheckInFrom != nil {
		params.Set("arrivalDateFrom", criteria.CheckInFrom.UTC().Format("2006-01-02"))
	}
	if criteria.CheckInTo != nil {
		params.Set("arrivalDateTo", criteria.CheckInTo.UTC().Format("2006-01-02"))
	}
	if criteria.UpdatedSince != "" {
		params.Set("lastModifiedSince", criteria.UpdatedSince)
	}
	if criteria.Cursor != "" {
		params.Set("page", criteria.Cursor)
	}
	limit := criteria.Limit
	if limit <= 0 {
		limit = 200
	}
	params.Set("limit", strconv.Itoa(limit))

	var out struct {
		Reservations []operaReservation `json:"reservations"`
		NextPage     string             `json:"nextPage"`
		HasMore      bool               `json:"hasMore"`
	}
	if err := a.client.getJSON(ctx, a.hotelPath("/reservations"), params, &out); err != nil {
		return nil, err
	}

	result := &SearchResult{NextCursor: out.NextPage, HasMore: out.HasMore}
	for _, raw := range out.Reservations {
		result.Reservations = append(result.Reservations, raw.toCanonical())
	}
	return result, nil
}

func (a *operaAdapter) GetFolio(ctx context.Context, reservationExternalId string) (*Folio, error) {
	if !a.authenticated {
		return nil, ErrNotAuthenticated
	}
	var out struct {
		Balance  json.Number `json:"balance"`
		Currency string      `json:"currencyCode"`
		Postings []struct {
			PostingDate     string      `json:"postingDate"`
			TransactionGroup string     `json:"transactionGroup"`
			Description     string      `json:"description"`
			Amount          json.Number `json:"amount"`
			TransactionCode string      `json:"transactionCode"`
			ApprovalCode    string      `json:"approvalCode"`
		} `json:"postings"`
	}
	if err := a.client.getJSON(ctx, a.hotelPath("/reservations/"+url.PathEscape(reservationExternalId)+"/folios"), nil, &out); err != nil {
		return nil, err
	}

	folio := &Folio{
		ReservationExternalId: reservationExternalId,
		ReportedBalance:       decimalFromNumber(out.Balance),
		Currency:              strings.ToUpper(strings.TrimSpace(out.Currency)),
	}
	for _, posting := range out.Postings {
		folio.Lines = append(folio.Lines, FolioLine{
			PostingDate:     parseVendorTime(posting.PostingDate),
			Category:        mapFolioCategory(posting.TransactionGroup),
			Description:     posting.Description,
			Amount:          decimalFromNumber(posting.Amount),
			TransactionCode: posting.TransactionCode,
			AuthCode:        posting.ApprovalCode,
			Currency:        folio.Currency,
		})
	}
	return folio, nil
}

func (a *operaAdapter) ListDocuments(ctx context.Context, reservationExternalId string) ([]DocumentInfo, error) {
	if !a.authenticated {
		return nil, ErrNotAuthenticated
	}
	var out struct {
		Attachments []struct {
			AttachmentId string `json:"attachmentId"`
			Type         string `json:"attachmentType"`
			FileName     string `json:"fileName"`
			ContentType  string `json:"contentType"`
		} `json:"attachments"`
	}
	if err := a.client.getJSON(ctx, a.hotelPath("/reservations/"+url.PathEscape(reservationExternalId)+"/attachments"), nil, &out); err != nil {
		return nil, err
	}
	docs := make([]DocumentInfo, 0, len(out.Attachments))
	for _, att := range out.Attachments {
		docs = append(docs, DocumentInfo{
			DocumentId:  att.AttachmentId,
			Type:        strings.ToUpper(strings.TrimSpace(att.Type)),
			Name:        att.FileName,
			ContentType: att.ContentType,
		})
	}
	return docs, nil
}

func (a *operaAdapter) FetchDocument(ctx context.Context, reservationExternalId string, documentId string) (*Document, error) {
	if !a.authenticated {
		return nil, ErrNotAuthenticated
	}
	data, contentType, err := a.client.getBytes(ctx, a.hotelPath("/reservations/"+url.PathEscape(reservationExternalId)+"/attachments/"+url.PathEscape(documentId)))
	if err != nil {
		return nil, err
	}
	return &Document{
		DocumentInfo: DocumentInfo{DocumentId: documentId, ContentType: contentType},
		Data:         data,
		FetchedAt:    time.Now().UTC(),
	}, nil
}

func (a *operaAdapter) PushCaseUpdate(ctx context.Context, caseRef string, status string) error {
	if !a.authenticated {
		return ErrNotAuthenticated
	}
	body := map[string]string{
		"caseReference": caseRef,
		"status":        status,
	}
	return a.client.postJSON(ctx, a.hotelPath("/disputes/caseUpdates"), body, nil)
}

func (a *operaAdapter) SubscribeWebhook(ctx context.Context, callbackURL string, secret string) error {
	if !a.authenticated {
		return ErrNotAuthenticated
	}
	body := map[string]interface{}{
		"callbackUrl": callbackURL,
		"secret":      secret,
		"events":      []string{"reservation_created", "reservation_updated", "folio_updated", "chargeback_alert"},
	}
	return a.client.postJSON(ctx, a.hotelPath("/subscriptions"), body, nil)
}

func (a *operaAdapter) hotelPath(suffix string) string {
	if a.propertyCode == "" {
		return "/v1" + suffix
	}
	return "/v1/hotels/" + url.PathEscape(a.propertyCode) + suffix
}
