package httpapi

import (
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	identity "hearth/internal/identity/models"
	"hearth/internal/identity/match"
	"hearth/internal/ledger"
	"hearth/internal/registration/models"
	registrationservice "hearth/internal/registration/service"
	id "hearth/pkg/domain"
	dErrors "hearth/pkg/domain-errors"
)

type ingestRequest struct {
	EventID       string                    `json:"event_id"`
	InstitutionID string                    `json:"institution_id"`
	OrderID       string                    `json:"order_id,omitempty"`
	Channel       string                    `json:"channel,omitempty"`
	Participants  []models.ParticipantInput `json:"participants"`
}

func (h *Handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "unreadable request body"))
		return
	}

	var req ingestRequest
	if err := unmarshalBody(raw, &req); err != nil {
		writeError(w, err)
		return
	}

	eventID, err := id.ParseEventID(req.EventID)
	if err != nil {
		writeError(w, err)
		return
	}
	institutionID, err := id.ParseInstitutionID(req.InstitutionID)
	if err != nil {
		writeError(w, err)
		return
	}
	var orderID *id.OrderID
	if req.OrderID != "" {
		parsed, err := id.ParseOrderID(req.OrderID)
		if err != nil {
			writeError(w, err)
			return
		}
		orderID = &parsed
	}
	channel := models.Channel(req.Channel)
	if channel == "" {
		channel = models.ChannelPublicForm
	}

	result, err := h.pipeline.Ingest(r.Context(), registrationservice.IngestRequest{
		EventID:       eventID,
		InstitutionID: institutionID,
		OrderID:       orderID,
		Channel:       channel,
		Participants:  req.Participants,
		RawPayload:    raw,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

type importRowRequest struct {
	InstitutionID string `json:"institution_id"`
	FirstName     string `json:"first_name"`
	LastName      string `json:"last_name"`
	Email         string `json:"email,omitempty"`
	Phone         string `json:"phone,omitempty"`
	DateOfBirth   string `json:"date_of_birth,omitempty"`
}

type importRowResponse struct {
	Person  personResponse `json:"person"`
	Match   matchResponse  `json:"match"`
	Created bool           `json:"created"`
}

func (h *Handler) handleImportRow(w http.ResponseWriter, r *http.Request) {
	var req importRowRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	institutionID, err := id.ParseInstitutionID(req.InstitutionID)
	if err != nil {
		writeError(w, err)
		return
	}
	var dob *time.Time
	if req.DateOfBirth != "" {
		parsed, err := time.Parse("2006-01-02", req.DateOfBirth)
		if err != nil {
			writeError(w, dErrors.New(dErrors.CodeValidation, "date_of_birth must be YYYY-MM-DD"))
			return
		}
		dob = &parsed
	}

	person, res, created, err := h.identities.ImportRow(r.Context(), match.Candidate{
		InstitutionID: institutionID,
		FirstName:     req.FirstName,
		LastName:      req.LastName,
		Email:         req.Email,
		Phone:         req.Phone,
		DateOfBirth:   dob,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, importRowResponse{
		Person:  toPersonResponse(person),
		Match:   toMatchResponse(res),
		Created: created,
	})
}

func (h *Handler) handleGetPerson(w http.ResponseWriter, r *http.Request) {
	personID, err := id.ParsePersonID(chi.URLParam(r, "personID"))
	if err != nil {
		writeError(w, err)
		return
	}
	person, err := h.identities.GetPerson(r.Context(), personID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPersonResponse(person))
}

type householdingRunRequest struct {
	InstitutionID string `json:"institution_id"`
}

func (h *Handler) handleHouseholdingRun(w http.ResponseWriter, r *http.Request) {
	var req householdingRunRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	institutionID, err := id.ParseInstitutionID(req.InstitutionID)
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := h.clusterer.Run(r.Context(), institutionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type resolveParticipantRequest struct {
	Action         string `json:"action"`
	TargetPersonID string `json:"target_person_id,omitempty"`
}

func (h *Handler) handleResolveParticipant(w http.ResponseWriter, r *http.Request) {
	participantID, err := id.ParseParticipantID(chi.URLParam(r, "participantID"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req resolveParticipantRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	var target *id.PersonID
	if req.TargetPersonID != "" {
		parsed, err := id.ParsePersonID(req.TargetPersonID)
		if err != nil {
			writeError(w, err)
			return
		}
		target = &parsed
	}

	participant, err := h.pipeline.ResolveParticipant(r.Context(), participantID,
		registrationservice.ResolveAction(req.Action), target)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toParticipantResponse(participant))
}

func (h *Handler) handleRefundOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := id.ParseOrderID(chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, err)
		return
	}
	refunded, err := h.pipeline.RefundOrder(r.Context(), orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"refunded": refunded})
}

type flagRequest struct {
	Reason string `json:"reason"`
	Notes  string `json:"notes,omitempty"`
}

func (h *Handler) handleFlag(w http.ResponseWriter, r *http.Request) {
	personID, err := id.ParsePersonID(chi.URLParam(r, "personID"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req flagRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	entry, err := h.entries.Flag(r.Context(), personID, req.Reason, req.Notes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEntryResponse(entry))
}

type mergeRequest struct {
	TargetPersonID string `json:"target_person_id"`
	Reason         string `json:"reason"`
	Notes          string `json:"notes,omitempty"`
}

type mergeResponse struct {
	Entry             entryResponse `json:"entry"`
	SurvivingPersonID string        `json:"surviving_person_id"`
}

func (h *Handler) handleMerge(w http.ResponseWriter, r *http.Request) {
	personID, err := id.ParsePersonID(chi.URLParam(r, "personID"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req mergeRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	targetID, err := id.ParsePersonID(req.TargetPersonID)
	if err != nil {
		writeError(w, err)
		return
	}
	entry, err := h.entries.Merge(r.Context(), personID, targetID, req.Reason, req.Notes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, mergeResponse{
		Entry:             toEntryResponse(entry),
		SurvivingPersonID: targetID.String(),
	})
}

func (h *Handler) handleUndo(w http.ResponseWriter, r *http.Request) {
	entryID, err := id.ParseLedgerEntryID(chi.URLParam(r, "entryID"))
	if err != nil {
		writeError(w, err)
		return
	}
	entry, err := h.entries.Undo(r.Context(), entryID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryResponse(entry))
}

func (h *Handler) handleFinalize(w http.ResponseWriter, r *http.Request) {
	entryID, err := id.ParseLedgerEntryID(chi.URLParam(r, "entryID"))
	if err != nil {
		writeError(w, err)
		return
	}
	entry, err := h.entries.Finalize(r.Context(), entryID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryResponse(entry))
}

func (h *Handler) handleLedgerHistory(w http.ResponseWriter, r *http.Request) {
	personID, err := id.ParsePersonID(chi.URLParam(r, "personID"))
	if err != nil {
		writeError(w, err)
		return
	}
	entries, err := h.entries.History(r.Context(), personID)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]entryResponse, 0, len(entries))
	for _, entry := range entries {
		out = append(out, toEntryResponse(entry))
	}
	writeJSON(w, http.StatusOK, out)
}

// Response shapes. Domain models stay transport-free; these are the wire
// views.

type personResponse struct {
	ID                 string     `json:"id"`
	InstitutionID      string     `json:"institution_id"`
	FirstName          string     `json:"first_name"`
	LastName           string     `json:"last_name"`
	Email              string     `json:"email,omitempty"`
	Phone              string     `json:"phone,omitempty"`
	DateOfBirth        *time.Time `json:"date_of_birth,omitempty"`
	Gender             string     `json:"gender,omitempty"`
	CreatedSource      string     `json:"created_source"`
	MergedFromPersonID string     `json:"merged_from_person_id,omitempty"`
	IsFlagged          bool       `json:"is_flagged"`
	FlagReason         string     `json:"flag_reason,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

func toPersonResponse(p *identity.Person) personResponse {
	resp := personResponse{
		ID:            p.ID.String(),
		InstitutionID: p.InstitutionID.String(),
		FirstName:     p.FirstName,
		LastName:      p.LastName,
		Email:         p.NormalizedEmail,
		Phone:         p.NormalizedPhone,
		DateOfBirth:   p.DateOfBirth,
		Gender:        p.Gender,
		CreatedSource: string(p.CreatedSource),
		IsFlagged:     p.IsFlagged,
		FlagReason:    p.FlagReason,
		CreatedAt:     p.CreatedAt,
	}
	if p.MergedFromPersonID != nil {
		resp.MergedFromPersonID = p.MergedFromPersonID.String()
	}
	return resp
}

type matchResponse struct {
	PersonID     string   `json:"person_id,omitempty"`
	Confidence   string   `json:"confidence"`
	Method       string   `json:"method,omitempty"`
	CandidateIDs []string `json:"candidate_ids,omitempty"`
}

func toMatchResponse(res match.Result) matchResponse {
	resp := matchResponse{
		Confidence: string(res.Confidence),
		Method:     res.Method,
	}
	if res.PersonID != nil {
		resp.PersonID = res.PersonID.String()
	}
	for _, cid := range res.CandidateIDs {
		resp.CandidateIDs = append(resp.CandidateIDs, cid.String())
	}
	return resp
}

type participantResponse struct {
	ID           string                   `json:"id"`
	SubmissionID string                   `json:"submission_id"`
	PersonID     string                   `json:"person_id,omitempty"`
	ReviewStatus string                   `json:"review_status"`
	Explanation  *models.MatchExplanation `json:"match_explanation,omitempty"`
}

func toParticipantResponse(p *models.Participant) participantResponse {
	resp := participantResponse{
		ID:           p.ID.String(),
		SubmissionID: p.SubmissionID.String(),
		ReviewStatus: string(p.ReviewStatus),
		Explanation:  p.Explanation,
	}
	if p.PersonID != nil {
		resp.PersonID = p.PersonID.String()
	}
	return resp
}

type entryResponse struct {
	ID                     string     `json:"id"`
	ActionType             string     `json:"action_type"`
	PersonID               string     `json:"person_id,omitempty"`
	DuplicatePersonID      string     `json:"duplicate_person_id,omitempty"`
	TargetPersonID         string     `json:"target_person_id,omitempty"`
	Reason                 string     `json:"reason"`
	Notes                  string     `json:"notes,omitempty"`
	UndoneAt               *time.Time `json:"undone_at,omitempty"`
	PermanentlyFinalizedAt *time.Time `json:"permanently_finalized_at,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
}

func toEntryResponse(e *ledger.Entry) entryResponse {
	resp := entryResponse{
		ID:                     e.ID.String(),
		ActionType:             string(e.ActionType),
		Reason:                 e.Reason,
		Notes:                  e.Notes,
		UndoneAt:               e.UndoneAt,
		PermanentlyFinalizedAt: e.PermanentlyFinalizedAt,
		CreatedAt:              e.CreatedAt,
	}
	if e.PersonID != nil {
		resp.PersonID = e.PersonID.String()
	}
	if e.DuplicatePersonID != nil {
		resp.DuplicatePersonID = e.DuplicatePersonID.String()
	}
	if e.TargetPersonID != nil {
		resp.TargetPersonID = e.TargetPersonID.String()
	}
	return resp
}
