package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"snap2serve/internal/failure"
	"snap2serve/internal/imagesource"
	"snap2serve/internal/ingredient"
	"snap2serve/internal/pipeline"
)

// callTimeout bounds a run or generate request, both collaborator calls
// included.
const callTimeout = 90 * time.Second

// SessionFactory builds the orchestrator for a new session id.
type SessionFactory func(id string) *pipeline.Orchestrator

// Handler handles HTTP requests.
type Handler struct {
	newSession SessionFactory
	log        *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*pipeline.Orchestrator
}

// NewHandler creates a new Handler.
func NewHandler(factory SessionFactory, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{newSession: factory, log: log, sessions: make(map[string]*pipeline.Orchestrator)}
}

// Register mounts the session routes on r.
func (h *Handler) Register(r gin.IRouter) {
	r.POST("/sessions", h.CreateSession)

	s := r.Group("/sessions/:id")
	s.GET("", h.GetState)
	s.DELETE("", h.DeleteSession)
	s.POST("/image", h.SelectImage)
	s.GET("/preview", h.GetPreview)
	s.PUT("/preference", h.SetPreference)
	s.POST("/run", h.Run)
	s.POST("/generate", h.Generate)
	s.POST("/reset", h.Reset)
	s.POST("/ingredients", h.AddIngredient)
	s.PUT("/ingredients/:index", h.RenameIngredient)
	s.DELETE("/ingredients/:index", h.RemoveIngredient)
	s.POST("/shopping", h.AddShopping)
	s.DELETE("/shopping", h.ClearShopping)
	s.DELETE("/shopping/:index", h.RemoveShoppingItem)
	s.GET("/shopping.txt", h.ExportShopping)
}

// Len reports the number of live sessions.
func (h *Handler) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

func (h *Handler) session(c *gin.Context) (*pipeline.Orchestrator, bool) {
	h.mu.RLock()
	o, ok := h.sessions[c.Param("id")]
	h.mu.RUnlock()
	if !ok {
		c.String(http.StatusNotFound, "Session not found")
	}
	return o, ok
}

func index(c *gin.Context) (int, bool) {
	i, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.String(http.StatusBadRequest, fmt.Sprintf("invalid index %q", c.Param("index")))
		return 0, false
	}
	return i, true
}

// CreateSession starts an idle session.
func (h *Handler) CreateSession(c *gin.Context) {
	id := uuid.NewString()
	o := h.newSession(id)

	h.mu.Lock()
	h.sessions[id] = o
	h.mu.Unlock()

	h.log.Info("session created", "session", id)
	c.JSON(http.StatusCreated, gin.H{"id": id, "state": o.State()})
}

// DeleteSession resets the session and forgets it.
func (h *Handler) DeleteSession(c *gin.Context) {
	o, ok := h.session(c)
	if !ok {
		return
	}

	h.mu.Lock()
	delete(h.sessions, c.Param("id"))
	h.mu.Unlock()

	if err := o.Reset(c.Request.Context()); err != nil {
		h.log.Warn("failed to clear session", "session", c.Param("id"), "error", err)
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) GetState(c *gin.Context) {
	o, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, o.State())
}

// SelectImage accepts a multipart upload under "image" or "file", or a JSON
// body carrying a data URL.
func (h *Handler) SelectImage(c *gin.Context) {
	o, ok := h.session(c)
	if !ok {
		return
	}

	p, err := readImage(c)
	if err != nil {
		c.String(http.StatusBadRequest, failure.Message(err))
		return
	}

	if _, err := o.SelectImage(c.Request.Context(), p); err != nil {
		var imgErr *failure.InvalidImageError
		if errors.As(err, &imgErr) {
			c.String(http.StatusBadRequest, imgErr.Error())
			return
		}
		c.String(http.StatusInternalServerError, fmt.Sprintf("select image err: %s", err.Error()))
		return
	}
	h.log.Info("image selected", "session", c.Param("id"), "hash", p.Hash(), "bytes", len(p.Data))
	c.JSON(http.StatusOK, o.State())
}

var allowedExtensions = map[string]bool{
	".jpeg": true,
	".jpg":  true,
	".png":  true,
	".gif":  true,
	".webp": true,
	".bmp":  true,
}

func readImage(c *gin.Context) (*imagesource.Payload, error) {
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		var file *multipart.FileHeader
		var err error
		for _, field := range []string{"image", "file"} {
			if file, err = c.FormFile(field); err == nil {
				break
			}
		}
		if file == nil {
			return nil, &failure.InvalidImageError{}
		}

		extension := strings.ToLower(filepath.Ext(file.Filename))
		if extension != "" && !allowedExtensions[extension] {
			return nil, &failure.InvalidImageError{Reason: "Please upload an image file."}
		}

		src, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("open file err: %w", err)
		}
		defer src.Close()
		return imagesource.FromReader(file.Filename, src)
	}

	var body struct {
		DataURL string `json:"data_url"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.DataURL == "" {
		return nil, &failure.InvalidImageError{}
	}
	return imagesource.FromDataURL(body.DataURL)
}

func (h *Handler) GetPreview(c *gin.Context) {
	o, ok := h.session(c)
	if !ok {
		return
	}
	pv := o.Preview()
	if pv == nil {
		c.String(http.StatusNotFound, "No image selected")
		return
	}
	c.Data(http.StatusOK, pv.ContentType, pv.Data)
}

func (h *Handler) SetPreference(c *gin.Context) {
	o, ok := h.session(c)
	if !ok {
		return
	}
	var body struct {
		Preference string `json:"preference"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.String(http.StatusBadRequest, fmt.Sprintf("bind err: %s", err.Error()))
		return
	}
	if err := o.SetPreference(c.Request.Context(), body.Preference); err != nil {
		c.String(http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, o.State())
}

// Run executes the full pipeline on the session image. A failed pipeline is
// reported through the returned state, not the status code.
func (h *Handler) Run(c *gin.Context) {
	o, ok := h.session(c)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), callTimeout)
	defer cancel()

	h.respondRun(c, o, o.RunSelected(ctx))
}

// Generate recommends recipes without detection. The body may override the
// ingredient names and the preference; otherwise the session's are used.
func (h *Handler) Generate(c *gin.Context) {
	o, ok := h.session(c)
	if !ok {
		return
	}
	var body struct {
		Ingredients []string `json:"ingredients"`
		Preference  *string  `json:"preference"`
	}
	// an empty body means the session's ingredients and preference
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		c.String(http.StatusBadRequest, fmt.Sprintf("bind err: %s", err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), callTimeout)
	defer cancel()

	var err error
	if body.Ingredients == nil && body.Preference == nil {
		err = o.GenerateCurrent(ctx)
	} else {
		st := o.State()
		names := body.Ingredients
		if names == nil {
			for _, ing := range st.Ingredients {
				names = append(names, ing.Name)
			}
		}
		preference := st.Preference
		if body.Preference != nil {
			preference = *body.Preference
		}
		err = o.Generate(ctx, names, preference)
	}
	h.respondRun(c, o, err)
}

func (h *Handler) respondRun(c *gin.Context, o *pipeline.Orchestrator, err error) {
	switch {
	case err == nil:
	case errors.Is(err, pipeline.ErrSuperseded):
		h.log.Info("run superseded", "session", c.Param("id"))
	default:
		h.log.Warn("pipeline failed", "session", c.Param("id"), "error", err)
	}
	c.JSON(http.StatusOK, o.State())
}

func (h *Handler) Reset(c *gin.Context) {
	o, ok := h.session(c)
	if !ok {
		return
	}
	if err := o.Reset(c.Request.Context()); err != nil {
		c.String(http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, o.State())
}

type nameBody struct {
	Name string `json:"name"`
}

func (h *Handler) AddIngredient(c *gin.Context) {
	o, ok := h.session(c)
	if !ok {
		return
	}
	var body nameBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.String(http.StatusBadRequest, fmt.Sprintf("bind err: %s", err.Error()))
		return
	}
	if !o.AddIngredient(body.Name) {
		c.String(http.StatusConflict, fmt.Sprintf("ingredient %q is empty or already listed", body.Name))
		return
	}
	c.JSON(http.StatusOK, o.State())
}

func (h *Handler) RenameIngredient(c *gin.Context) {
	o, ok := h.session(c)
	if !ok {
		return
	}
	i, ok := index(c)
	if !ok {
		return
	}
	var body nameBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.String(http.StatusBadRequest, fmt.Sprintf("bind err: %s", err.Error()))
		return
	}

	switch err := o.RenameIngredient(i, body.Name); {
	case err == nil:
		c.JSON(http.StatusOK, o.State())
	case errors.Is(err, ingredient.ErrIndexOutOfRange):
		c.String(http.StatusNotFound, err.Error())
	case errors.Is(err, ingredient.ErrDuplicateName):
		c.String(http.StatusConflict, err.Error())
	default:
		c.String(http.StatusBadRequest, err.Error())
	}
}

func (h *Handler) RemoveIngredient(c *gin.Context) {
	o, ok := h.session(c)
	if !ok {
		return
	}
	i, ok := index(c)
	if !ok {
		return
	}
	if !o.RemoveIngredient(i) {
		c.String(http.StatusNotFound, ingredient.ErrIndexOutOfRange.Error())
		return
	}
	c.JSON(http.StatusOK, o.State())
}

// AddShopping merges either free-text items or the missing items of one
// recipe into the shopping list.
func (h *Handler) AddShopping(c *gin.Context) {
	o, ok := h.session(c)
	if !ok {
		return
	}
	var body struct {
		Items       []string `json:"items"`
		RecipeIndex *int     `json:"recipe_index"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.String(http.StatusBadRequest, fmt.Sprintf("bind err: %s", err.Error()))
		return
	}

	var added int
	if body.RecipeIndex != nil {
		var err error
		if added, err = o.AddMissing(*body.RecipeIndex); err != nil {
			c.String(http.StatusNotFound, err.Error())
			return
		}
	} else {
		added = o.MergeMissing(body.Items)
	}
	c.JSON(http.StatusOK, gin.H{"added": added, "state": o.State()})
}

func (h *Handler) RemoveShoppingItem(c *gin.Context) {
	o, ok := h.session(c)
	if !ok {
		return
	}
	i, ok := index(c)
	if !ok {
		return
	}
	if !o.RemoveShoppingItem(i) {
		c.String(http.StatusNotFound, "shopping item index out of range")
		return
	}
	c.JSON(http.StatusOK, o.State())
}

func (h *Handler) ClearShopping(c *gin.Context) {
	o, ok := h.session(c)
	if !ok {
		return
	}
	o.ClearShopping()
	c.JSON(http.StatusOK, o.State())
}

func (h *Handler) ExportShopping(c *gin.Context) {
	o, ok := h.session(c)
	if !ok {
		return
	}
	c.String(http.StatusOK, o.ShoppingText())
}
