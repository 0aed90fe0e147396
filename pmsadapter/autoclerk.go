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
)

const VendorAutoClerk = "AUTOCLERK"

var autoClerkMetadata = Metadata{
	VendorType:        VendorAutoClerk,
	DisplayName:       "AutoClerk Cloud PMS",
	AuthType:          "api_key",
	SupportsWebhooks:  true,
	SupportsPush:      true,
	SupportsDocuments: true,
	Features:          []string{"reservations", "folios", "documents", "webhooks", "case_push"},
}

func init() {
	Register(VendorAutoClerk, autoClerkMetadata, newAutoClerkAdapter)
}

type autoClerkAdapter struct {
	client        *restClient
	propertyCode  string
	authenticated bool
}

func newAutoClerkAdapter(cfg Config) (Adapter, error) {
	apiKey := strings.TrimSpace(cfg.Credentials["api_key"])
	if apiKey == "" {
		return nil, errors.New("autoclerk: api_key credential is required")
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = envOrDefault("AUTOCLERK_API_BASE_URL", "https://api.autoclerk.com")
	}
	apiKeyHeader := envOrDefault("AUTOCLERK_API_KEY_HEADER", "X-API-Key")

	client := newRestClient(VendorAutoClerk, baseURL, cfg, "AUTOCLERK_RATE_LIMIT_PER_MIN", func(req *http.Request) {
		req.Header.Set(apiKeyHeader, apiKey)
	})
	return &autoClerkAdapter{client: client, propertyCode: cfg.PropertyCode}, nil
}

func (a *autoClerkAdapter) Metadata() Metadata { return autoClerkMetadata }

func (a *autoClerkAdapter) Authenticate(ctx context.Context) error {
	var out struct {
		PropertyId string `json:"property_id"`
	}
	if err := a.client.getJSON(ctx, "/v1/property", nil, &out); err != nil {
		return err
	}
	a.authenticated = true
	return nil
}

type autoClerkReservation struct {
	ID                 string      `json:"id"`
	ConfirmationNumber string      `json:"confirmation_number"`
	GuestName          string      `json:"guest_name"`
	GuestEmail         string      `json:"guest_email"`
	GuestPhone         string      `json:"guest_phone"`
	ArrivalDate        string      `json:"arrival_date"`
	DepartureDate      string      `json:"departure_date"`
	ActualArrival      string      `json:"actual_arrival"`
	ActualDeparture    string      `json:"actual_departure"`
	RoomNumber         string      `json:"room_number"`
	RoomType           string      `json:"room_type"`
	RateCode           string      `json:"rate_code"`
	RateAmount         json.Number `json:"rate_amount"`
	TotalAmount        json.Number `json:"total_amount"`
	Currency           string      `json:"currency"`
	CardBrand          string      `json:"card_brand"`
	CardLastFour       string      `json:"card_last_four"`
	BookingSource      string      `json:"booking_source"`
	Status             string      `json:"status"`
	UpdatedAt          string      `json:"updated_at"`
}

func (r autoClerkReservation) toCanonical() Reservation {
	return Reservation{
		ExternalId:         strings.TrimSpace(r.ID),
		ConfirmationNumber: strings.TrimSpace(r.ConfirmationNumber),
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

func (a *autoClerkAdapter) GetReservation(ctx context.Context, externalId string) (*Reservation, error) {
	if !a.authenticated {
		return nil, ErrNotAuthenticated
	}
	var out autoClerkReservation
	if err := a.client.getJSON(ctx, "/v1/reservations/"+url.PathEscape(externalId), nil, &out); err != nil {
		return nil, err
	}
	reservation := out.toCanonical()
	return &reservation, nil
}

func (a *autoClerkAdapter) SearchReservations(ctx context.Context, criteria SearchCriteria) (*SearchResult, error) {
	if !a.authenticated {
		return nil, ErrNotAuthenticated
	}
	params := url.Values{}
	if a.propertyCode != "" {
		params.Set("property_code", a.propertyCode)
	}
	if criteria.ConfirmationNumber != "" {
		params.Set("confirmation_number", criteria.ConfirmationNumber)
	}
	if criteria.GuestName != "" {
		params.Set("guest_name", criteria.GuestName)
	}
	if criteria.CardLastFour != "" {
		params.Set("card_last_four", criteria.CardLastFour)
	}
	if criteria.CheckInFrom != nil {
		params.Set("arrival_from", criteria.CheckInFrom.UTC().Format("2006-01-02"))
	}
	if criteria.CheckInTo != nil {
		params.Set("arrival_to", criteria.CheckInTo.UTC().Format("2006-01-02"))
	}
	if criteria.UpdatedSince != "" {
		params.Set("updated_since", criteria.UpdatedSince)
	}
	if criteria.Cursor != "" {
		params.Set("cursor", criteria.Cursor)
	}
	limit := criteria.Limit
	if limit <= 0 {
		limit = 200
	}
	params.Set("limit", strconv.Itoa(limit))

	var out struct {
		Data       []autoClerkReservation `json:"data"`
		NextCursor string                 `json:"next_cursor"`
		HasMore    bool                   `json:"has_more"`
	}
	if err := a.client.getJSON(ctx, "/v1/reservations", params, &out); err != nil {
		return nil, err
	}

	result := &SearchResult{NextCursor: out.NextCursor, HasMore: out.HasMore}
	for _, raw := range out.Data {
		result.Reservations = append(result.Reservations, raw.toCanonical())
	}
	return result, nil
}

func (a *autoClerkAdapter) GetFolio(ctx context.Context, reservationExternalId string) (*Folio, error) {
	if !a.authenticated {
		return nil, ErrNotAuthenticated
	}
	var out struct {
		Balance  json.Number `json:"balance"`
		Currency string      `json:"currency"`
		Lines    []struct {
			PostingDate     string      `json:"posting_date"`
			Category        string      `json:"category"`
			Description     string      `json:"description"`
			Amount          json.Number `json:"amount"`
			TransactionCode string      `json:"transaction_code"`
			AuthCode        string      `json:"auth_code"`
		} `json:"lines"`
	}
	if err := a.client.getJSON(ctx, "/v1/reservations/"+url.PathEscape(reservationExternalId)+"/folio", nil, &out); err != nil {
		return nil, err
	}

	folio := &Folio{
		ReservationExternalId: reservationExternalId,
		ReportedBalance:       decimalFromNumber(out.Balance),
		Currency:              strings.ToUpper(strings.TrimSpace(out.Currency)),
	}
	for _, line := range out.Lines {
		folio.Lines = append(folio.Lines, FolioLine{
			PostingDate:     parseVendorTime(line.PostingDate),
			Category:        mapFolioCategory(line.Category),
			Description:     line.Description,
			Amount:          decimalFromNumber(line.Amount),
			TransactionCode: line.TransactionCode,
			AuthCode:        line.AuthCode,
			Currency:        folio.Currency,
		})
	}
	return folio, nil
}

func (a *autoClerkAdapter) ListDocuments(ctx context.Context, reservationExternalId string) ([]DocumentInfo, error) {
	if !a.authenticated {
		return nil, ErrNotAuthenticated
	}
	var out struct {
		Documents []struct {
			ID          string `json:"id"`
			Type        string `json:"type"`
			Name        string `json:"name"`
			ContentType string `json:"content_type"`
		} `json:"documents"`
	}
	if err := a.client.getJSON(ctx, "/v1/reservations/"+url.PathEscape(reservationExternalId)+"/documents", nil, &out); err != nil {
		return nil, err
	}
	docs := make([]DocumentInfo, 0, len(out.Documents))
	for _, doc := range out.Documents {
		docs = append(docs, DocumentInfo{
			DocumentId:  doc.ID,
			Type:        strings.ToUpper(strings.TrimSpace(doc.Type)),
			Name:        doc.Name,
			ContentType: doc.ContentType,
		})
	}
	return docs, nil
}

func (a *autoClerkAdapter) FetchDocument(ctx context.Context, reservationExternalId string, documentId string) (*Document, error) {
	if !a.authenticated {
		return nil, ErrNotAuthenticated
	}
	data, contentType, err := a.client.getBytes(ctx, "/v1/reservations/"+url.PathEscape(reservationExternalId)+"/documents/"+url.PathEscape(documentId))
	if err != nil {
		return nil, err
	}
	return &Document{
		DocumentInfo: DocumentInfo{DocumentId: documentId, ContentType: contentType},
		Data:         data,
		FetchedAt:    time.Now().UTC(),
	}, nil
}

func (a *autoClerkAdapter) PushCaseUpdate(ctx context.Context, caseRef string, status string) error {
	if !a.authenticated {
		return ErrNotAuthenticated
	}
	body := map[string]string{
		"case_ref": caseRef,
		"status":   status,
	}
	return a.client.postJSON(ctx, "/v1/disputes/case-updates", body, nil)
}

func (a *autoClerkAdapter) SubscribeWebhook(ctx context.Context, callbackURL string, secret string) error {
	if !a.authenticated {
		return ErrNotAuthenticated
	}
	body := map[string]interface{}{
		"callback_url": callbackURL,
		"secret":       secret,
		"events":       []string{"reservation_created", "reservation_updated", "folio_updated", "chargeback_alert"},
	}
	return a.client.postJSON(ctx, "/v1/webhooks", body, nil)
}
