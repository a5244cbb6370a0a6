package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/prn-tf/alexander-cms/internal/auth"
	"github.com/prn-tf/alexander-cms/internal/domain"
	"github.com/prn-tf/alexander-cms/internal/negotiate"
	"github.com/prn-tf/alexander-cms/internal/service"
)

// AgentHandler serves signup, activation, password reset and agent
// management.
type AgentHandler struct {
	rt     *Router
	logger zerolog.Logger
}

func newAgentHandler(rt *Router) *AgentHandler {
	return &AgentHandler{
		rt:     rt,
		logger: rt.logger.With().Str("handler", "agent").Logger(),
	}
}

// RegisterRoutes registers agent routes.
func (h *AgentHandler) RegisterRoutes(r chi.Router) {
	r.Route("/agents", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Post("/", h.handleSignup)

		r.Get("/activate/{code}", h.handleActivate)
		r.Post("/activate/{code}", h.handleActivate)

		r.Post("/forgot_password", h.handleForgotPassword)
		r.Get("/reset_password/{code}", h.handleResetPassword)
		r.Post("/reset_password/{code}", h.handleResetPassword)

		r.Get("/{agent}", h.handleShow)
		r.Delete("/{agent}", h.handleDestroy)
	})
}

type agentParams struct {
	Login                string `json:"login"`
	Email                string `json:"email"`
	Password             string `json:"password"`
	PasswordConfirmation string `json:"password_confirmation"`
	OpenIDIdentifier     string `json:"openid_identifier"`
	IsAdmin              bool   `json:"is_admin"`
}

// bindAgent reads agent attributes from a form or a JSON {"agent": {...}} body.
func (h *AgentHandler) bindAgent(r *http.Request) (agentParams, error) {
	var p agentParams
	if isForm(mediaType(r)) {
		if err := parseForm(r, h.rt.maxBodySize); err != nil {
			return p, err
		}
		p.Login = r.Form.Get("login")
		p.Email = r.Form.Get("email")
		p.Password = r.Form.Get("password")
		p.PasswordConfirmation = r.Form.Get("password_confirmation")
		p.OpenIDIdentifier = r.Form.Get("openid_identifier")
		p.IsAdmin, _ = strconv.ParseBool(r.Form.Get("is_admin"))
		return p, nil
	}

	var body struct {
		Agent agentParams `json:"agent"`
	}
	if err := decodeJSON(r, &body); err != nil {
		return p, err
	}
	return body.Agent, nil
}

func (h *AgentHandler) notice(w http.ResponseWriter, r *http.Request, status int, format negotiate.Format, notice negotiate.Notice) {
	format = documentFormat(format)
	rep, err := h.rt.negotiator.RenderNotice(notice, format)
	h.rt.write(w, r, status, rep, err, format)
}

func (h *AgentHandler) handleSignup(w http.ResponseWriter, r *http.Request) {
	format := requestFormat(r, "")
	r.Body = http.MaxBytesReader(w, r.Body, h.rt.maxBodySize)

	p, err := h.bindAgent(r)
	if err != nil {
		h.rt.writeError(w, r, err, format)
		return
	}

	out, err := h.rt.agents.Signup(r.Context(), auth.ActorFromContext(r.Context()), service.SignupInput{
		Login:                p.Login,
		Email:                p.Email,
		Password:             p.Password,
		PasswordConfirmation: p.PasswordConfirmation,
		OpenIDIdentifier:     p.OpenIDIdentifier,
		IsAdmin:              p.IsAdmin,
	})
	if err != nil {
		h.rt.writeError(w, r, err, format)
		return
	}

	w.Header().Set("Location", "/agents/"+strconv.FormatInt(out.Agent.ID, 10))
	setNotices(w, out.Current, out.Notices)
	h.notice(w, r, http.StatusCreated, format, negotiate.Notice{
		Agent:              out.Agent,
		Messages:           out.Notices,
		ActivationRequired: out.ActivationRequired,
		ActivationSent:     out.ActivationSent,
	})
}

func (h *AgentHandler) handleActivate(w http.ResponseWriter, r *http.Request) {
	format := requestFormat(r, "")

	out, err := h.rt.agents.Activate(r.Context(), auth.ActorFromContext(r.Context()), chi.URLParam(r, "code"))
	if err != nil {
		h.rt.writeError(w, r, err, format)
		return
	}

	setNotices(w, out.Current, out.Notices)
	h.notice(w, r, http.StatusOK, format, negotiate.Notice{Agent: out.Agent, Messages: out.Notices})
}

func (h *AgentHandler) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	format := requestFormat(r, "")
	r.Body = http.MaxBytesReader(w, r.Body, h.rt.maxBodySize)

	var email string
	if isForm(mediaType(r)) {
		if err := parseForm(r, h.rt.maxBodySize); err != nil {
			h.rt.writeError(w, r, err, format)
			return
		}
		email = r.Form.Get("email")
	} else {
		var body struct {
			Email string `json:"email"`
		}
		if err := decodeJSON(r, &body); err != nil {
			h.rt.writeError(w, r, err, format)
			return
		}
		email = body.Email
	}

	out, err := h.rt.agents.ForgotPassword(r.Context(), auth.ActorFromContext(r.Context()), email)
	if err != nil {
		h.rt.writeError(w, r, err, format)
		return
	}

	setNotices(w, nil, out.Notices)
	h.notice(w, r, http.StatusOK, format, negotiate.Notice{Messages: out.Notices})
}

func (h *AgentHandler) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	format := requestFormat(r, "")
	input := service.ResetPasswordInput{Code: chi.URLParam(r, "code")}

	if r.Method == http.MethodPost {
		r.Body = http.MaxBytesReader(w, r.Body, h.rt.maxBodySize)
		p, err := h.bindAgent(r)
		if err != nil {
			h.rt.writeError(w, r, err, format)
			return
		}
		input.Password = p.Password
		input.PasswordConfirmation = p.PasswordConfirmation
	}

	out, err := h.rt.agents.ResetPassword(r.Context(), auth.ActorFromContext(r.Context()), input)
	if err != nil {
		h.rt.writeError(w, r, err, format)
		return
	}

	setNotices(w, out.Current, out.Notices)
	h.notice(w, r, http.StatusOK, format, negotiate.Notice{Agent: out.Agent, Messages: out.Notices})
}

func (h *AgentHandler) handleList(w http.ResponseWriter, r *http.Request) {
	format := documentFormat(requestFormat(r, ""))

	out, err := h.rt.agents.List(r.Context(), auth.ActorFromContext(r.Context()), service.ListAgentsInput{
		Limit:  queryInt(r, "limit", 20),
		Offset: queryInt(r, "offset", 0),
	})
	if err != nil {
		h.rt.writeError(w, r, err, format)
		return
	}

	rep, err := h.rt.negotiator.RenderAgents(out.Agents, out.TotalCount, format)
	h.rt.write(w, r, http.StatusOK, rep, err, format)
}

// handleShow renders an agent. The Atom rendering is the publishing
// service document listing the agent's containers.
func (h *AgentHandler) handleShow(w http.ResponseWriter, r *http.Request) {
	ref, ext := splitKnownFormat(chi.URLParam(r, "agent"))
	format := requestFormat(r, ext)
	actor := auth.ActorFromContext(r.Context())

	agent, err := h.rt.agents.Get(r.Context(), actor, ref)
	if err != nil {
		h.rt.writeError(w, r, err, format)
		return
	}

	var containers []*domain.Container
	if format == negotiate.FormatAtom || format == "atomsvc" {
		containers, err = h.rt.containers.List(r.Context(), actor, agent.ID)
		if err != nil {
			h.rt.writeError(w, r, err, format)
			return
		}
	}

	rep, err := h.rt.negotiator.RenderAgent(agent, containers, format)
	h.rt.write(w, r, http.StatusOK, rep, err, format)
}

func (h *AgentHandler) handleDestroy(w http.ResponseWriter, r *http.Request) {
	format := requestFormat(r, "")

	agent, err := h.rt.agents.Destroy(r.Context(), auth.ActorFromContext(r.Context()), chi.URLParam(r, "agent"))
	if err != nil {
		h.rt.writeError(w, r, err, format)
		return
	}

	h.logger.Info().Int64("agent_id", agent.ID).Msg("agent destroyed over http")
	w.WriteHeader(http.StatusNoContent)
}
