package models

type UserRole string

const (
	UserRoleAdmin    UserRole = "A"
	UserRoleOwner    UserRole = "O"
	UserRoleCommon   UserRole = "C"
	UserRoleAdminStr          = "Admin"
)

const (
	IntegrationStatusConnecting   = "connecting"
	IntegrationStatusConnected    = "connected"
	IntegrationStatusDisconnected = "disconnected"
	IntegrationStatusError        = "error"
)

const (
	AuthTypeAPIKey = "api_key"
	AuthTypeOAuth2 = "oauth2"
	AuthTypeBasic  = "basic"
)

const (
	ReservationStatusConfirmed  = "confirmed"
	ReservationStatusCheckedIn  = "checked_in"
	ReservationStatusCheckedOut = "checked_out"
	ReservationStatusCancelled  = "cancelled"
	ReservationStatusNoShow     = "no_show"
)

type FolioCategory string

const (
	FolioCategoryRoom         FolioCategory = "ROOM"
	FolioCategoryTaxFee       FolioCategory = "TAX_FEE"
	FolioCategoryFoodBeverage FolioCategory = "FOOD_BEVERAGE"
	FolioCategoryIncidental   FolioCategory = "INCIDENTAL"
	FolioCategoryPayment      FolioCategory = "PAYMENT"
	FolioCategoryAdjustment   FolioCategory = "ADJUSTMENT"
	FolioCategoryOther        FolioCategory = "OTHER"
)

type EvidenceType string

const (
	EvidenceTypeIDScan                  EvidenceType = "ID_SCAN"
	EvidenceTypeAuthSignature           EvidenceType = "AUTH_SIGNATURE"
	EvidenceTypeCheckoutSignature       EvidenceType = "CHECKOUT_SIGNATURE"
	EvidenceTypeFolio                   EvidenceType = "FOLIO"
	EvidenceTypeReservationConfirmation EvidenceType = "RESERVATION_CONFIRMATION"
	EvidenceTypeCancellationPolicy      EvidenceType = "CANCELLATION_POLICY"
	EvidenceTypeKeyCardLog              EvidenceType = "KEY_CARD_LOG"
	EvidenceTypeCCTVFootage             EvidenceType = "CCTV_FOOTAGE"
	EvidenceTypeCorrespondence          EvidenceType = "CORRESPONDENCE"
	EvidenceTypeIncidentReport          EvidenceType = "INCIDENT_REPORT"
	EvidenceTypeDamagePhotos            EvidenceType = "DAMAGE_PHOTOS"
	EvidenceTypePoliceReport            EvidenceType = "POLICE_REPORT"
	EvidenceTypeNoShowDocumentation     EvidenceType = "NO_SHOW_DOCUMENTATION"
	EvidenceTypeArbitrationDocument     EvidenceType = "ARBITRATION_DOCUMENT"
	EvidenceTypePaymentReceipt          EvidenceType = "PAYMENT_RECEIPT"
	EvidenceTypeOther                   EvidenceType = "OTHER"
)

const (
	EvidenceSourceVendor    = "vendor"
	EvidenceSourceGenerated = "generated"
	EvidenceSourceManual    = "manual"
)

type MatchStrategy string

const (
	MatchStrategyConfirmationNumber MatchStrategy = "confirmation_number"
	MatchStrategyCardLastFour       MatchStrategy = "card_last4"
	MatchStrategyGuestNameDate      MatchStrategy = "guest_name_date"
	MatchStrategyComposite          MatchStrategy = "composite"
	MatchStrategyManual             MatchStrategy = "manual"
)

const (
	MatchStatusActive     = "active"
	MatchStatusSuperseded = "superseded"
	MatchStatusConfirmed  = "confirmed"
)

const (
	ChargebackStatusReceived         = "received"
	ChargebackStatusEvidenceBuilding = "evidence_building"
	ChargebackStatusSubmitted        = "submitted"
	ChargebackStatusWon              = "won"
	ChargebackStatusLost             = "lost"
)

const (
	SyncDirectionInbound  = "inbound"
	SyncDirectionOutbound = "outbound"
)

const (
	SyncTypeFull        = "full"
	SyncTypeIncremental = "incremental"
	SyncTypeWebhook     = "webhook"
)

const (
	SyncLogStatusStarted   = "started"
	SyncLogStatusCompleted = "completed"
	SyncLogStatusFailed    = "failed"
	SyncLogStatusPartial   = "partial"
)

const (
	SyncTriggeredManual  = "manual"
	SyncTriggeredSystem  = "system"
	SyncTriggeredWebhook = "webhook"
	SyncTriggeredRetry   = "retry"
)

const (
	EntityTypeReservation = "reservation"
	EntityTypeFolio       = "folio"
	EntityTypeDocument    = "document"
	EntityTypeCaseStatus  = "case_status"
)

type PubSubMessageAction string

const (
	PubSubMessageActionCreate PubSubMessageAction = "C"
	PubSubMessageActionUpdate PubSubMessageAction = "U"
	PubSubMessageActionDelete PubSubMessageAction = "D"
)
