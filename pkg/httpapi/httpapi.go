// Package httpapi mounts the REST surface for the admission pipeline on
// top of internal/httpserver: GET /offers plus the three admission
// endpoints. GET /health and /metrics are mounted by internal/httpserver
// itself.
package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/DhananjayPurohit/paygress/internal/httpserver"
	"github.com/DhananjayPurohit/paygress/pkg/admission"
	"github.com/DhananjayPurohit/paygress/pkg/catalog"
	"github.com/DhananjayPurohit/paygress/pkg/identity"
)

// cashuTokenHeader is the header a payment-gateway front-proxy may inject
// a verified token under, as an alternative to the JSON body field.
const cashuTokenHeader = "X-Cashu-Token"

// API holds the dependencies the admission HTTP handlers need.
type API struct {
	pipeline  *admission.Pipeline
	catalog   *catalog.Catalog
	identity  *identity.Store
	whitelist []string
	minDur    int64
}

// New constructs the admission HTTP handlers.
func New(pipeline *admission.Pipeline, cat *catalog.Catalog, ids *identity.Store, whitelistedMints []string, minDurationSecs int64) *API {
	return &API{
		pipeline:  pipeline,
		catalog:   cat,
		identity:  ids,
		whitelist: whitelistedMints,
		minDur:    minDurationSecs,
	}
}

// Mount registers the admission routes on r.
func (a *API) Mount(r chi.Router) {
	r.Get("/offers", a.handleOffers)
	r.Post("/pods/spawn", a.handleSpawn)
	r.Post("/pods/topup", a.handleTopUp)
	r.Post("/pods/status", a.handleStatus)
}

func (a *API) handleOffers(w http.ResponseWriter, r *http.Request) {
	doc := a.catalog.AsOfferDocument(a.identity.ServiceIdentity().PublicKey, a.whitelist, a.minDur)
	httpserver.Respond(w, http.StatusOK, doc)
}

type spawnRequest struct {
	CashuToken    string `json:"cashu_token"`
	PodSpecID     string `json:"pod_spec_id,omitempty" validate:"omitempty"`
	PodImage      string `json:"pod_image"`
	SSHUsername   string `json:"ssh_username" validate:"required"`
	SSHPassword   string `json:"ssh_password" validate:"required"`
	DurationSecs  int64  `json:"duration_secs,omitempty"`
}

func (a *API) handleSpawn(w http.ResponseWriter, r *http.Request) {
	var req spawnRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	if req.CashuToken == "" {
		req.CashuToken = r.Header.Get(cashuTokenHeader)
	}
	if req.CashuToken == "" {
		httpserver.RespondError(w, http.StatusBadRequest, string(admission.KindInvalidSpec), "missing cashu_token")
		return
	}

	details, err := a.pipeline.Spawn(r.Context(), admission.SpawnRequest{
		TokenStr:              req.CashuToken,
		TierID:                req.PodSpecID,
		Image:                 req.PodImage,
		SSHUser:               req.SSHUsername,
		SSHPassword:           req.SSHPassword,
		RequestedDurationSecs: req.DurationSecs,
	})
	if err != nil {
		respondAdmissionError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, details)
}

type topUpRequest struct {
	PodIdentity string `json:"pod_identity" validate:"required"`
	CashuToken  string `json:"cashu_token"`
}

func (a *API) handleTopUp(w http.ResponseWriter, r *http.Request) {
	var req topUpRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	if req.CashuToken == "" {
		req.CashuToken = r.Header.Get(cashuTokenHeader)
	}
	if req.CashuToken == "" {
		httpserver.RespondError(w, http.StatusBadRequest, string(admission.KindInvalidSpec), "missing cashu_token")
		return
	}

	result, err := a.pipeline.TopUp(r.Context(), admission.TopUpRequest{
		PodIdentity: req.PodIdentity,
		TokenStr:    req.CashuToken,
	})
	if err != nil {
		respondAdmissionError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, result)
}

type statusRequest struct {
	PodIdentity string `json:"pod_identity" validate:"required"`
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	status, err := a.pipeline.Status(req.PodIdentity)
	if err != nil {
		respondAdmissionError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, status)
}

// respondAdmissionError maps an *admission.Error's Kind to the HTTP
// status table in the external interfaces spec; anything else is a bug
// and surfaces as 500 without leaking internals.
func respondAdmissionError(w http.ResponseWriter, err error) {
	var admErr *admission.Error
	if !errors.As(err, &admErr) {
		httpserver.RespondError(w, http.StatusInternalServerError, string(admission.KindInternal), "internal error")
		return
	}

	status := http.StatusInternalServerError
	switch admErr.Kind {
	case admission.KindInvalidSpec:
		status = http.StatusBadRequest
	case admission.KindInsufficientPayment, admission.KindInvalidToken, admission.KindPaymentFailed:
		status = http.StatusPaymentRequired
	case admission.KindResourceUnavailable:
		status = http.StatusServiceUnavailable
	case admission.KindPodCreationFailed, admission.KindInternal:
		status = http.StatusInternalServerError
	case admission.KindPodNotFound:
		status = http.StatusNotFound
	}

	httpserver.RespondErrorDetails(w, status, string(admErr.Kind), admErr.Message, admErr.Details)
}
