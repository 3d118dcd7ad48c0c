package handlers

import (
	"net/http"

	"github.com/viaschema/ucp-samples/internal/capability"
)

// WellKnownPath is where the merchant publishes its capability profile.
const WellKnownPath = "/.well-known/ucp"

// ProfileHandlers serves the merchant capability profile document.
type ProfileHandlers struct {
	merchant capability.Profile
}

// NewProfileHandlers constructs the profile discovery handlers.
func NewProfileHandlers(merchant capability.Profile) *ProfileHandlers {
	return &ProfileHandlers{merchant: merchant}
}

// WellKnown serves the merchant profile in the same document format the
// resolver accepts, so counterparties can negotiate against it directly.
func (h *ProfileHandlers) WellKnown(w http.ResponseWriter, _ *http.Request) {
	writeJSONResponse(w, http.StatusOK, h.merchant)
}
