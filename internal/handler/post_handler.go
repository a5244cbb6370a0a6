package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/prn-tf/alexander-cms/internal/auth"
	"github.com/prn-tf/alexander-cms/internal/domain"
	"github.com/prn-tf/alexander-cms/internal/negotiate"
	"github.com/prn-tf/alexander-cms/internal/service"
)

// PostHandler serves the per-collection post endpoints.
type PostHandler struct {
	rt     *Router
	logger zerolog.Logger
}

func newPostHandler(rt *Router) *PostHandler {
	return &PostHandler{
		rt:     rt,
		logger: rt.logger.With().Str("handler", "post").Logger(),
	}
}

// RegisterRoutes registers the collection routes. They are matched after
// every static prefix, so a collection can never shadow /agents.
func (h *PostHandler) RegisterRoutes(r chi.Router) {
	r.Get("/{collection}", h.handleList)
	r.Post("/{collection}", h.handleCreate)

	r.Get("/{collection}/{post}", h.handleShow)
	r.Put("/{collection}/{post}", h.handleUpdate)
	r.Patch("/{collection}/{post}", h.handleUpdate)
	r.Delete("/{collection}/{post}", h.handleDelete)
}

// contentType resolves the {collection} parameter and its format extension.
func (h *PostHandler) contentType(r *http.Request) (*domain.ContentType, negotiate.Format, error) {
	name, ext := splitFormat(chi.URLParam(r, "collection"))
	format := requestFormat(r, ext)

	ct, err := h.rt.posts.ResolveType(name)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownContentType) {
			return nil, format, domain.NewDomainError(domain.ErrNotFound, "no such collection", name)
		}
		return nil, format, err
	}
	return ct, format, nil
}

func (h *PostHandler) handleList(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, nil)
}

func (h *PostHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	h.create(w, r, nil)
}

// list renders one page of a collection, in a container or the public feed.
func (h *PostHandler) list(w http.ResponseWriter, r *http.Request, containerID *int64) {
	ct, format, err := h.contentType(r)
	if err != nil {
		h.rt.writeError(w, r, err, format)
		return
	}

	page, err := h.rt.posts.List(r.Context(), auth.ActorFromContext(r.Context()), service.ListPostsInput{
		ContainerID: containerID,
		ContentType: ct,
		Page:        queryInt(r, "page", 1),
	})
	if err != nil {
		h.rt.writeError(w, r, err, format)
		return
	}

	rep, err := h.rt.negotiator.RenderPage(r.Context(), page, format)
	h.rt.write(w, r, http.StatusOK, rep, err, format)
}

// create builds a post from the request body. The response is the new post
// in the requested format, or JSON when none was requested.
func (h *PostHandler) create(w http.ResponseWriter, r *http.Request, containerID *int64) {
	ct, format, err := h.contentType(r)
	if format == negotiate.FormatAny && mediaType(r) == "application/atom+xml" {
		format = negotiate.FormatAtom
	}
	if err != nil {
		h.rt.writeError(w, r, err, format)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.rt.maxBodySize)

	input, err := h.bindPost(r)
	if err != nil {
		h.rt.writeError(w, r, err, format)
		return
	}
	input.ContainerID = containerID
	input.ContentType = ct

	post, err := h.rt.posts.Create(r.Context(), auth.ActorFromContext(r.Context()), input)
	if err != nil {
		h.rt.writeError(w, r, err, format)
		return
	}

	if !format.IsStructured() {
		format = negotiate.FormatJSON
	}
	w.Header().Set("Location", h.rt.negotiator.PostURL(ct, post))
	rep, err := h.rt.negotiator.RenderPost(r.Context(), post, format)
	h.rt.write(w, r, http.StatusCreated, rep, err, format)
}

// postID parses the {post} parameter and its format extension.
func postID(r *http.Request) (int64, string, error) {
	ref, ext := splitFormat(chi.URLParam(r, "post"))
	id, err := parseID(ref)
	if err != nil {
		return 0, ext, domain.NewDomainError(domain.ErrPostNotFound, "invalid id", ref)
	}
	return id, ext, nil
}

func (h *PostHandler) handleShow(w http.ResponseWriter, r *http.Request) {
	ct, format, err := h.contentType(r)
	if err != nil {
		h.rt.writeError(w, r, err, format)
		return
	}
	id, ext, err := postID(r)
	format = requestFormat(r, ext)
	if err != nil {
		h.rt.writeError(w, r, err, format)
		return
	}

	post, err := h.rt.posts.Get(r.Context(), auth.ActorFromContext(r.Context()), ct, id)
	if err != nil {
		h.rt.writeError(w, r, err, format)
		return
	}

	rep, err := h.rt.negotiator.RenderPost(r.Context(), post, format)
	h.rt.write(w, r, http.StatusOK, rep, err, format)
}

func (h *PostHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ct, format, err := h.contentType(r)
	if err != nil {
		h.rt.writeError(w, r, err, format)
		return
	}
	id, ext, err := postID(r)
	format = requestFormat(r, ext)
	if err != nil {
		h.rt.writeError(w, r, err, format)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.rt.maxBodySize)

	input, err := h.bindPostUpdate(r)
	if err != nil {
		h.rt.writeError(w, r, err, format)
		return
	}

	post, err := h.rt.posts.Update(r.Context(), auth.ActorFromContext(r.Context()), ct, id, input)
	if err != nil {
		h.rt.writeError(w, r, err, format)
		return
	}

	if !format.IsStructured() {
		format = negotiate.FormatJSON
	}
	rep, err := h.rt.negotiator.RenderPost(r.Context(), post, format)
	h.rt.write(w, r, http.StatusOK, rep, err, format)
}

func (h *PostHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	ct, format, err := h.contentType(r)
	if err != nil {
		h.rt.writeError(w, r, err, format)
		return
	}
	id, ext, err := postID(r)
	format = requestFormat(r, ext)
	if err != nil {
		h.rt.writeError(w, r, err, format)
		return
	}

	if err := h.rt.posts.Delete(r.Context(), auth.ActorFromContext(r.Context()), ct, id); err != nil {
		h.rt.writeError(w, r, err, format)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// Request binding
// =============================================================================

type postBody struct {
	Content struct {
		Title       string `json:"title"`
		Body        string `json:"body"`
		URL         string `json:"url"`
		Description string `json:"description"`
		Filename    string `json:"filename"`
		ContentType string `json:"content_type"`

		// Data is base64 in JSON.
		Data []byte `json:"data"`
	} `json:"content"`
	Post struct {
		Title       string  `json:"title"`
		Description string  `json:"description"`
		PublicRead  bool    `json:"public_read"`
		CategoryIDs []int64 `json:"category_ids"`
	} `json:"post"`
}

// bindPost reads the content and post attributes of a new post. Accepted
// bodies: JSON, urlencoded or multipart forms (file field "file"), an Atom
// entry, or the raw payload with its name in the Slug header.
func (h *PostHandler) bindPost(r *http.Request) (service.CreatePostInput, error) {
	var input service.CreatePostInput
	mt := mediaType(r)

	switch {
	case mt == "" || mt == "application/json":
		var body postBody
		if err := decodeJSON(r, &body); err != nil {
			return input, err
		}
		input.Content = domain.ContentAttributes{
			Title:       body.Content.Title,
			Body:        body.Content.Body,
			URL:         body.Content.URL,
			Description: body.Content.Description,
			Filename:    body.Content.Filename,
			ContentType: body.Content.ContentType,
			Data:        body.Content.Data,
		}
		input.Post = domain.PostAttributes{
			Title:       body.Post.Title,
			Description: body.Post.Description,
			PublicRead:  body.Post.PublicRead,
			CategoryIDs: body.Post.CategoryIDs,
		}
		return input, nil

	case isForm(mt):
		if err := parseForm(r, h.rt.maxBodySize); err != nil {
			return input, err
		}
		input.Content = domain.ContentAttributes{
			Title:       r.Form.Get("title"),
			Body:        r.Form.Get("body"),
			URL:         r.Form.Get("url"),
			Description: r.Form.Get("description"),
		}
		if r.MultipartForm != nil {
			if files := r.MultipartForm.File["file"]; len(files) > 0 {
				f, err := files[0].Open()
				if err != nil {
					return input, fmt.Errorf("%w: %v", errMalformedBody, err)
				}
				data, err := io.ReadAll(f)
				f.Close()
				if err != nil {
					return input, fmt.Errorf("%w: %v", errMalformedBody, err)
				}
				input.Content.Data = data
				input.Content.Filename = files[0].Filename
				input.Content.ContentType = files[0].Header.Get("Content-Type")
			}
		}
		if err := bindPostForm(r, &input.Post); err != nil {
			return input, err
		}
		return input, nil

	case mt == "application/atom+xml":
		entry, err := negotiate.ParseEntry(r.Body)
		if err != nil {
			return input, fmt.Errorf("%w: %v", errMalformedBody, err)
		}
		input.Content = domain.ContentAttributes{
			Title:       entry.Title,
			Body:        entry.Content,
			URL:         entry.Link,
			Description: entry.Summary,
		}
		input.Post.CategoryIDs = entry.CategoryIDs
		return input, bindPostQuery(r, &input.Post)
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return input, fmt.Errorf("%w: %v", errMalformedBody, err)
	}
	filename := r.Header.Get("Slug")
	if unescaped, err := url.PathUnescape(filename); err == nil {
		filename = unescaped
	}
	input.Content = domain.ContentAttributes{
		Filename:    filename,
		ContentType: r.Header.Get("Content-Type"),
		Data:        data,
	}
	return input, bindPostQuery(r, &input.Post)
}

// bindPostForm reads post attributes from parsed form fields.
func bindPostForm(r *http.Request, attrs *domain.PostAttributes) error {
	attrs.Title = r.Form.Get("post_title")
	attrs.Description = r.Form.Get("post_description")
	publicRead, err := formBool(r, "public_read")
	if err != nil {
		return err
	}
	if publicRead != nil {
		attrs.PublicRead = *publicRead
	}
	if v := formString(r, "category_ids"); v != nil {
		attrs.CategoryIDs = parseIDList(*v)
	}
	return nil
}

// bindPostQuery reads post attributes from the query string, for bodies
// that carry only the content.
func bindPostQuery(r *http.Request, attrs *domain.PostAttributes) error {
	categories := attrs.CategoryIDs
	r.Form = r.URL.Query()
	if err := bindPostForm(r, attrs); err != nil {
		return err
	}
	if attrs.CategoryIDs == nil {
		attrs.CategoryIDs = categories
	}
	return nil
}

// bindPostUpdate reads the post attributes to change. Absent fields are kept.
func (h *PostHandler) bindPostUpdate(r *http.Request) (service.UpdatePostInput, error) {
	var input service.UpdatePostInput

	if isForm(mediaType(r)) {
		if err := parseForm(r, h.rt.maxBodySize); err != nil {
			return input, err
		}
		input.Title = formString(r, "title")
		input.Description = formString(r, "description")
		publicRead, err := formBool(r, "public_read")
		if err != nil {
			return input, err
		}
		input.PublicRead = publicRead
		if v := formString(r, "category_ids"); v != nil {
			input.CategoryIDs = parseIDList(*v)
		}
		return input, nil
	}

	var body struct {
		Post struct {
			Title       *string `json:"title"`
			Description *string `json:"description"`
			PublicRead  *bool   `json:"public_read"`
			CategoryIDs []int64 `json:"category_ids"`
		} `json:"post"`
	}
	if err := decodeJSON(r, &body); err != nil {
		return input, err
	}
	input.Title = body.Post.Title
	input.Description = body.Post.Description
	input.PublicRead = body.Post.PublicRead
	input.CategoryIDs = body.Post.CategoryIDs
	return input, nil
}
