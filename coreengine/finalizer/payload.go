package finalizer

import (
	"time"

	"github.com/jeeves-cluster-organization/onboarding/coreengine/session"
)

// Payload is the flat configuration record sent to the automation webhook.
// Nullable fields are pointers so that absent values encode as JSON null.
type Payload struct {
	UserID          string    `json:"user_id"`
	SessionID       string    `json:"session_id"`
	SubscriberName  string    `json:"subscriber_name"`
	Goal            string    `json:"goal"`
	BusinessName    string    `json:"business_name"`
	Industry        string    `json:"industry"`
	UseCurrentPhone bool      `json:"use_current_phone"`
	Phone           string    `json:"phone"`
	OpenTime        string    `json:"open_time"`
	CloseTime       string    `json:"close_time"`
	PDFBase64       *string   `json:"pdf_base64"`
	PDFName         *string   `json:"pdf_name"`
	ReviewPlatform  string    `json:"review_platform"`
	ReviewLink      *string   `json:"review_link"`
	SubmittedAt     time.Time `json:"submitted_at"`
}

// BuildPayload resolves branch and "Other" values from st.
// The transcript is never consulted.
func BuildPayload(st *session.State, enc EncodeResult, now time.Time) Payload {
	p := Payload{
		UserID:          st.UserID,
		SessionID:       st.SessionID,
		SubscriberName:  st.Prefill.DisplayName,
		Goal:            st.Goal,
		BusinessName:    st.ResolvedBusinessName(),
		Industry:        st.Industry.Resolve(),
		UseCurrentPhone: st.UseCurrentPhone(),
		Phone:           st.ResolvedPhone(),
		OpenTime:        st.OpenTime,
		CloseTime:       st.CloseTime,
		PDFBase64:       enc.Encoded,
		PDFName:         enc.Name,
		SubmittedAt:     now.UTC(),
	}
	if st.ReviewLink != nil {
		link := *st.ReviewLink
		p.ReviewLink = &link
		p.ReviewPlatform = st.ReviewPlatform.Resolve()
	}
	return p
}
