package pmsadapter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const VendorRoomKey = "ROOMKEY"

// RoomKey has no document, webhook, or push endpoints; it only serves
// reservation and folio reads.
var roomKeyMetadata = Metadata{
	VendorType:        VendorRoomKey,
	DisplayName:       "RoomKey PMS",
	AuthType:          "basic",
	SupportsWebhooks:  false,
	SupportsPush:      false,
	SupportsDocuments: false,
	Features:          []string{"reservations", "folios"},
}

func init() {
	Register(VendorRoomKey, roomKeyMetadata, newRoomKeyAdapter)
}

type roomKeyAdapter struct {
	client        *restClient
	authenticated bool
}

func newRoomKeyAdapter(cfg Config) (Adapter, error) {
	username := strings.TrimSpace(cfg.Credentials["username"])
	password := cfg.Credentials["password"]
	if username == "" || password == "" {
		return nil, errors.New("roomkey: username and password credentials are required")
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = envOrDefault("ROOMKEY_API_BASE_URL", "https://api.roomkeypms.com")
	}

	client := newRestClient(VendorRoomKey, baseURL, cfg, "ROOMKEY_RATE_LIMIT_PER_MIN", func(req *http.Request) {
		req.SetBasicAuth(username, password)
	})
	return &roomKeyAdapter{client: client}, nil
}

func (a *roomKeyAdapter) Metadata() Metadata { return roomKeyMetadata }

func (a *roomKeyAdapter) Authenticate(ctx context.Context) error {
	if err := a.client.getJSON(ctx, "/api/account", nil, nil); err != nil {
		return err
	}
	a.authenticated = true
	return nil
}

type roomKeyReservation struct {
	ID            string      `json:"id"`
	ConfNumber    string      `json:"conf_number"`
	Guest         string      `json:"guest"`
	Email         string      `json:"email"`
	Phone         string      `json:"phone"`
	CheckIn       string      `json:"check_in"`
	CheckOut      string      `json:"check_out"`
	Room          string      `json:"room"`
	RoomType      string      `json:"room_type"`
	Rate          json.Number `json:"rate"`
	Total         json.Number `json:"total"`
	Currency      string      `json:"currency"`
	CardBrand     string      `json:"card_brand"`
	CardLast4     string      `json:"card_last4"`
	Source        string      `json:"source"`
	Status        string      `json:"status"`
	LastUpdatedAt string      `json:"last_updated_at"`
}

func (r roomKeyReservation) toCanonical() Reservation {
	return Reservation{
		ExternalId:         strings.TrimSpace(r.ID),
		ConfirmationNumber: strings.TrimSpace(r.ConfNumber),
		GuestName:          strings.TrimSpace(r.Guest),
		GuestEmail:         strings.TrimSpace(r.Email),
		GuestPhone:         strings.TrimSpace(r.Phone),
		CheckInDate:        parseVendorTime(r.CheckIn),
		CheckOutDate:       parseVendorTime(r.CheckOut),
		RoomNumber:         r.Room,
		RoomType:           r.RoomType,
		RateAmount:         decimalFromNumber(r.Rate),
		TotalAmount:        decimalFromNumber(r.Total),
		Currency:           strings.ToUpper(strings.TrimSpace(r.Currency)),
		CardBrand:          r.CardBrand,
		CardLastFour:       r.CardLast4,
		BookingSource:      r.Source,
		Status:             mapReservationStatus(r.Status),
		UpdatedAt:          parseVendorTime(r.LastUpdatedAt),
	}
}

func (a *roomKeyAdapter) GetReservation(ctx context.Context, externalId string) (*Reservation, error) {
	if !a.authenticated {
		return nil, ErrNotAuthenticated
	}
	var out roomKeyReservation
	if err := a.client.getJSON(ctx, "/api/reservations/"+url.PathEscape(externalId), nil, &out); err != nil {
		return nil, err
	}
	reservation := out.toCanonical()
	return &reservation, nil
}

func (a *roomKeyAdapter) SearchReservations(ctx context.Context, criteria SearchCriteria) (*SearchResult, error) {
	if !a.authenticated {
		return nil, ErrNotAuthenticated
	}
	params := url.Values{}
	if criteria.ConfirmationNumber != "" {
		params.Set("conf_number", criteria.ConfirmationNumber)
	}
	if criteria.GuestName != "" {
		params.Set("guest", criteria.GuestName)
	}
	if criteria.CardLastFour != "" {
		params.Set("card_last4", criteria.CardLastFour)
	}
	if criteria.CheckInFrom != nil {
		params.Set("check_in_from", criteria.CheckInFrom.UTC().Format("2006-01-02"))
	}
	if criteria.CheckInTo != nil {
		params.Set("check_in_to", criteria.CheckInTo.UTC().Format("2006-01-02"))
	}
	if criteria.UpdatedSince != "" {
		params.Set("updated_since", criteria.UpdatedSince)
	}
	if criteria.Cursor != "" {
		params.Set("offset", criteria.Cursor)
	}
	limit := criteria.Limit
	if limit <= 0 {
		limit = 100
	}
	params.Set("limit", strconv.Itoa(limit))

	var out struct {
		Items      []roomKeyReservation `json:"items"`
		NextOffset string               `json:"next_offset"`
	}
	if err := a.client.getJSON(ctx, "/api/reservations", params, &out); err != nil {
		return nil, err
	}

	result := &SearchResult{NextCursor: out.NextOffset, HasMore: out.NextOffset != ""}
	for _, raw := range out.Items {
		result.Reservations = append(result.Reservations, raw.toCanonical())
	}
	return result, nil
}

func (a *roomKeyAdapter) GetFolio(ctx context.Context, reservationExternalId string) (*Folio, error) {
	if !a.authenticated {
		return nil, ErrNotAuthenticated
	}
	var out struct {
		Balance  json.Number `json:"balance"`
		Currency string      `json:"currency"`
		Charges  []struct {
			Date        string      `json:"date"`
			Type        string      `json:"type"`
			Description string      `json:"description"`
			Amount      json.Number `json:"amount"`
			Code        string      `json:"code"`
		} `json:"charges"`
	}
	if err := a.client.getJSON(ctx, "/api/reservations/"+url.PathEscape(reservationExternalId)+"/folio", nil, &out); err != nil {
		return nil, err
	}

	folio := &Folio{
		ReservationExternalId: reservationExternalId,
		ReportedBalance:       decimalFromNumber(out.Balance),
		Currency:              strings.ToUpper(strings.TrimSpace(out.Currency)),
	}
	for _, charge := range out.Charges {
		folio.Lines = append(folio.Lines, FolioLine{
			PostingDate:     parseVendorTime(charge.Date),
			Category:        mapFolioCategory(charge.Type),
			Description:     charge.Description,
			Amount:          decimalFromNumber(charge.Amount),
			TransactionCode: charge.Code,
			Currency:        folio.Currency,
		})
	}
	return folio, nil
}

// ListDocuments returns an empty list rather than an error; the vendor has
// no document store and callers treat the capability as absent.
func (a *roomKeyAdapter) ListDocuments(ctx context.Context, reservationExternalId string) ([]DocumentInfo, error) {
	if !a.authenticated {
		return nil, ErrNotAuthenticated
	}
	return []DocumentInfo{}, nil
}

func (a *roomKeyAdapter) FetchDocument(ctx context.Context, reservationExternalId string, documentId string) (*Document, error) {
	return nil, ErrCapabilityNotSupported
}

func (a *roomKeyAdapter) PushCaseUpdate(ctx context.Context, caseRef string, status string) error {
	return ErrCapabilityNotSupported
}

func (a *roomKeyAdapter) SubscribeWebhook(ctx context.Context, callbackURL string, secret string) error {
	return ErrCapabilityNotSupported
}
