package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/prn-tf/alexander-cms/internal/auth"
	"github.com/prn-tf/alexander-cms/internal/domain"
	"github.com/prn-tf/alexander-cms/internal/service"
)

// ContainerHandler serves containers and the posts listed inside them.
type ContainerHandler struct {
	rt     *Router
	posts  *PostHandler
	logger zerolog.Logger
}

func newContainerHandler(rt *Router, posts *PostHandler) *ContainerHandler {
	return &ContainerHandler{
		rt:     rt,
		posts:  posts,
		logger: rt.logger.With().Str("handler", "container").Logger(),
	}
}

// RegisterRoutes registers container routes.
func (h *ContainerHandler) RegisterRoutes(r chi.Router) {
	r.Route("/containers", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Post("/", h.handleCreate)

		r.Get("/{container}", h.handleShow)
		r.Put("/{container}", h.handleUpdate)
		r.Patch("/{container}", h.handleUpdate)
		r.Delete("/{container}", h.handleDelete)

		r.Get("/{container}/{collection}", h.handleListPosts)
		r.Post("/{container}/{collection}", h.handleCreatePost)
	})
}

type containerParams struct {
	Type                 string   `json:"type"`
	Name                 *string  `json:"name"`
	AcceptedContentTypes []string `json:"accepted_content_types"`
	PublicRead           *bool    `json:"public_read"`
}

func (h *ContainerHandler) bindContainer(r *http.Request) (containerParams, error) {
	var p containerParams
	if isForm(mediaType(r)) {
		if err := parseForm(r, h.rt.maxBodySize); err != nil {
			return p, err
		}
		p.Type = r.Form.Get("type")
		p.Name = formString(r, "name")
		if v, ok := r.Form["accepted_content_types"]; ok {
			p.AcceptedContentTypes = v
		}
		publicRead, err := formBool(r, "public_read")
		if err != nil {
			return p, err
		}
		p.PublicRead = publicRead
		return p, nil
	}

	var body struct {
		Container containerParams `json:"container"`
	}
	if err := decodeJSON(r, &body); err != nil {
		return p, err
	}
	return body.Container, nil
}

// containerID parses the {container} parameter.
func containerID(r *http.Request) (int64, string, error) {
	ref, ext := splitFormat(chi.URLParam(r, "container"))
	id, err := parseID(ref)
	if err != nil {
		return 0, ext, domain.NewDomainError(domain.ErrContainerNotFound, "invalid id", ref)
	}
	return id, ext, nil
}

func (h *ContainerHandler) handleList(w http.ResponseWriter, r *http.Request) {
	format := documentFormat(requestFormat(r, ""))

	var ownerID int64
	if v := r.URL.Query().Get("owner_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			h.rt.writeError(w, r, errMalformedBody, format)
			return
		}
		ownerID = id
	}

	containers, err := h.rt.containers.List(r.Context(), auth.ActorFromContext(r.Context()), ownerID)
	if err != nil {
		h.rt.writeError(w, r, err, format)
		return
	}

	rep, err := h.rt.negotiator.RenderContainers(containers, format)
	h.rt.write(w, r, http.StatusOK, rep, err, format)
}

func (h *ContainerHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	format := documentFormat(requestFormat(r, ""))
	r.Body = http.MaxBytesReader(w, r.Body, h.rt.maxBodySize)

	p, err := h.bindContainer(r)
	if err != nil {
		h.rt.writeError(w, r, err, format)
		return
	}
	input := service.CreateContainerInput{
		Type:                 p.Type,
		AcceptedContentTypes: p.AcceptedContentTypes,
		PublicRead:           p.PublicRead,
	}
	if p.Name != nil {
		input.Name = *p.Name
	}

	container, err := h.rt.containers.Create(r.Context(), auth.ActorFromContext(r.Context()), input)
	if err != nil {
		h.rt.writeError(w, r, err, format)
		return
	}

	w.Header().Set("Location", h.rt.negotiator.ContainerURL(container))
	rep, err := h.rt.negotiator.RenderContainer(container, format)
	h.rt.write(w, r, http.StatusCreated, rep, err, format)
}

func (h *ContainerHandler) handleShow(w http.ResponseWriter, r *http.Request) {
	id, ext, err := containerID(r)
	format := documentFormat(requestFormat(r, ext))
	if err != nil {
		h.rt.writeError(w, r, err, format)
		return
	}

	container, err := h.rt.containers.Get(r.Context(), auth.ActorFromContext(r.Context()), id)
	if err != nil {
		h.rt.writeError(w, r, err, format)
		return
	}

	rep, err := h.rt.negotiator.RenderContainer(container, format)
	h.rt.write(w, r, http.StatusOK, rep, err, format)
}

func (h *ContainerHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ext, err := containerID(r)
	format := documentFormat(requestFormat(r, ext))
	if err != nil {
		h.rt.writeError(w, r, err, format)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.rt.maxBodySize)

	p, err := h.bindContainer(r)
	if err != nil {
		h.rt.writeError(w, r, err, format)
		return
	}

	container, err := h.rt.containers.Update(r.Context(), auth.ActorFromContext(r.Context()), id, service.UpdateContainerInput{
		Name:                 p.Name,
		AcceptedContentTypes: p.AcceptedContentTypes,
		PublicRead:           p.PublicRead,
	})
	if err != nil {
		h.rt.writeError(w, r, err, format)
		return
	}

	rep, err := h.rt.negotiator.RenderContainer(container, format)
	h.rt.write(w, r, http.StatusOK, rep, err, format)
}

func (h *ContainerHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ext, err := containerID(r)
	format := requestFormat(r, ext)
	if err != nil {
		h.rt.writeError(w, r, err, format)
		return
	}

	if err := h.rt.containers.Delete(r.Context(), auth.ActorFromContext(r.Context()), id); err != nil {
		h.rt.writeError(w, r, err, format)
		return
	}
	h.logger.Info().Int64("container_id", id).Msg("container deleted over http")
	w.WriteHeader(http.StatusNoContent)
}

func (h *ContainerHandler) handleListPosts(w http.ResponseWriter, r *http.Request) {
	id, _, err := containerID(r)
	if err != nil {
		h.rt.writeError(w, r, err, requestFormat(r, ""))
		return
	}
	h.posts.list(w, r, &id)
}

func (h *ContainerHandler) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	id, _, err := containerID(r)
	if err != nil {
		h.rt.writeError(w, r, err, requestFormat(r, ""))
		return
	}
	h.posts.create(w, r, &id)
}
