// Package pipeline sequences ingredient detection and recipe recommendation
// and owns the user-editable state built from their results.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"snap2serve/internal/failure"
	"snap2serve/internal/imagesource"
	"snap2serve/internal/ingredient"
	"snap2serve/internal/recipe"
	"snap2serve/internal/session"
	"snap2serve/internal/shopping"
)

// Detector turns an image into candidate ingredients.
type Detector interface {
	Detect(ctx context.Context, p *imagesource.Payload) ([]ingredient.Ingredient, error)
}

// Recommender ranks recipes for a set of confirmed ingredients.
type Recommender interface {
	Recommend(ctx context.Context, names []string, preference string) (*recipe.Result, error)
}

var (
	// ErrSuperseded is returned by a run whose results arrived after a newer
	// run (or a reset) had started. Nothing from such a run is applied.
	ErrSuperseded = errors.New("pipeline run superseded")

	ErrRecipeIndex = errors.New("recipe index out of range")
)

// State is an immutable snapshot handed to the render layer. Version grows
// with every change, so observers can drop snapshots that arrive late.
type State struct {
	Version      uint64                  `json:"version"`
	RunID        uint64                  `json:"run_id"`
	Stage        Stage                   `json:"stage"`
	Progress     string                  `json:"progress,omitempty"`
	Reason       string                  `json:"reason,omitempty"`
	Preference   string                  `json:"preference"`
	HasImage     bool                    `json:"has_image"`
	Ingredients  []ingredient.Ingredient `json:"ingredients"`
	Recipes      []recipe.Recipe         `json:"recipes"`
	ShoppingList *recipe.ShoppingList    `json:"shopping_list,omitempty"`
	Shopping     []string                `json:"shopping"`
}

// Config wires an Orchestrator to its collaborators.
type Config struct {
	Detector    Detector
	Recommender Recommender
	Session     session.Store
	Logger      *slog.Logger
}

// Orchestrator owns the pipeline stage and the ingredient, recipe and
// shopping models. All methods are safe for concurrent use; collaborator
// calls are made without holding the lock.
type Orchestrator struct {
	detector    Detector
	recommender Recommender
	store       session.Store
	log         *slog.Logger

	mu          sync.Mutex
	version     uint64
	runID       uint64
	stage       Stage
	reason      string
	preference  string
	images      imagesource.Selector
	ingredients ingredient.Set
	recipes     []recipe.Recipe
	serviceList *recipe.ShoppingList
	shopping    shopping.List

	subMu   sync.Mutex
	subs    map[int]func(State)
	nextSub int
}

// New creates an idle Orchestrator. A nil Session gets an in-memory store.
func New(cfg Config) *Orchestrator {
	if cfg.Session == nil {
		cfg.Session = session.NewMemoryStore()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Orchestrator{
		detector:    cfg.Detector,
		recommender: cfg.Recommender,
		store:       cfg.Session,
		log:         cfg.Logger,
		subs:        make(map[int]func(State)),
	}
}

// Subscribe registers fn to receive a snapshot after every change. The
// returned func removes it.
func (o *Orchestrator) Subscribe(fn func(State)) func() {
	o.subMu.Lock()
	defer o.subMu.Unlock()
	id := o.nextSub
	o.nextSub++
	o.subs[id] = fn
	return func() {
		o.subMu.Lock()
		defer o.subMu.Unlock()
		delete(o.subs, id)
	}
}

func (o *Orchestrator) publish(st State) {
	o.subMu.Lock()
	fns := make([]func(State), 0, len(o.subs))
	for _, fn := range o.subs {
		fns = append(fns, fn)
	}
	o.subMu.Unlock()

	for _, fn := range fns {
		fn(st)
	}
}

// State returns the current snapshot.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

func (o *Orchestrator) snapshotLocked() State {
	recipes := make([]recipe.Recipe, len(o.recipes))
	copy(recipes, o.recipes)
	_, err := o.images.Payload()
	return State{
		Version:      o.version,
		RunID:        o.runID,
		Stage:        o.stage,
		Progress:     o.stage.Label(),
		Reason:       o.reason,
		Preference:   o.preference,
		HasImage:     err == nil,
		Ingredients:  o.ingredients.Items(),
		Recipes:      recipes,
		ShoppingList: o.serviceList,
		Shopping:     o.shopping.Items(),
	}
}

// mutate applies fn under the lock and publishes the result when fn reports
// a change.
func (o *Orchestrator) mutate(fn func() bool) State {
	o.mu.Lock()
	changed := fn()
	if changed {
		o.version++
	}
	st := o.snapshotLocked()
	o.mu.Unlock()

	if changed {
		o.publish(st)
	}
	return st
}

// guarded is mutate for stage completions: fn only runs if id is still the
// current run.
func (o *Orchestrator) guarded(id uint64, stage string, fn func()) error {
	stale := false
	o.mutate(func() bool {
		if id != o.runID {
			stale = true
			return false
		}
		fn()
		return true
	})
	if stale {
		staleResults.WithLabelValues(stage).Inc()
		o.log.Debug("discarding stale result", "run", id, "stage", stage)
		return ErrSuperseded
	}
	return nil
}

// begin starts a new run at stage and returns its identifier. Any run still
// in flight is superseded.
func (o *Orchestrator) begin(stage Stage, fn func()) uint64 {
	var id uint64
	o.mutate(func() bool {
		o.runID++
		id = o.runID
		o.stage = stage
		o.reason = ""
		if fn != nil {
			fn()
		}
		return true
	})
	return id
}

// fail moves run id to Failed. Already committed state is left alone.
func (o *Orchestrator) fail(id uint64, kind, stage string, err error) error {
	if gerr := o.guarded(id, stage, func() {
		o.stage = Failed
		o.reason = failure.Message(err)
	}); gerr != nil {
		runsTotal.WithLabelValues(kind, "superseded").Inc()
		return gerr
	}
	runsTotal.WithLabelValues(kind, "failed").Inc()
	o.log.Warn("pipeline run failed", "run", id, "stage", stage, "error", err)
	return err
}

// Run executes the full pipeline for p: detect ingredients, replace the
// ingredient set, then recommend recipes for the current set.
func (o *Orchestrator) Run(ctx context.Context, p *imagesource.Payload) error {
	return o.run(ctx, func(context.Context, uint64) (*imagesource.Payload, error) {
		if p == nil {
			return nil, &failure.InvalidImageError{}
		}
		return p, nil
	})
}

// RunSelected runs the pipeline on the selected image, falling back to the
// image carried over in the session store.
func (o *Orchestrator) RunSelected(ctx context.Context) error {
	return o.run(ctx, o.currentImage)
}

func (o *Orchestrator) currentImage(ctx context.Context, id uint64) (*imagesource.Payload, error) {
	if p, err := o.images.Payload(); err == nil {
		return p, nil
	}

	dataURL, err := o.store.Get(ctx, session.KeyImage)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, &failure.InvalidImageError{Reason: "No uploaded image found. Go back and upload a photo first."}
		}
		return nil, fmt.Errorf("failed to load session image: %w", err)
	}
	if pref, err := o.store.Get(ctx, session.KeyPreference); err == nil {
		if err := o.guarded(id, "upload", func() { o.preference = pref }); err != nil {
			return nil, err
		}
	}
	return imagesource.FromDataURL(dataURL)
}

func (o *Orchestrator) run(ctx context.Context, load func(context.Context, uint64) (*imagesource.Payload, error)) error {
	const kind = "run"

	// recipes from an earlier image are stale as soon as a new run starts
	id := o.begin(UploadingImage, func() {
		o.recipes = nil
		o.serviceList = nil
	})
	o.log.Info("pipeline run started", "run", id)

	p, err := load(ctx, id)
	if err != nil {
		return o.fail(id, kind, "upload", err)
	}

	if err := o.guarded(id, "upload", func() { o.stage = DetectingIngredients }); err != nil {
		runsTotal.WithLabelValues(kind, "superseded").Inc()
		return err
	}

	start := time.Now()
	ings, err := o.detector.Detect(ctx, p)
	callDuration.WithLabelValues("detect").Observe(time.Since(start).Seconds())
	if err != nil {
		return o.fail(id, kind, "detect", err)
	}

	var names []string
	var preference string
	if err := o.guarded(id, "detect", func() {
		o.ingredients.ReplaceAll(ings)
		o.stage = FindingRecipes
		names = o.ingredients.Names()
		preference = o.preference
	}); err != nil {
		runsTotal.WithLabelValues(kind, "superseded").Inc()
		return err
	}
	o.log.Info("ingredients detected", "run", id, "count", len(names))

	return o.recommend(ctx, id, kind, names, preference)
}

// Generate performs only the recommendation stage for names, used after the
// ingredients were edited by hand. It supersedes any run in flight.
func (o *Orchestrator) Generate(ctx context.Context, names []string, preference string) error {
	id := o.begin(FindingRecipes, nil)
	o.log.Info("recipe generation started", "run", id, "ingredients", len(names))
	return o.recommend(ctx, id, "generate", names, preference)
}

// GenerateCurrent is Generate with the current ingredient set and stored
// preference.
func (o *Orchestrator) GenerateCurrent(ctx context.Context) error {
	o.mu.Lock()
	names := o.ingredients.Names()
	preference := o.preference
	o.mu.Unlock()
	return o.Generate(ctx, names, preference)
}

func (o *Orchestrator) recommend(ctx context.Context, id uint64, kind string, names []string, preference string) error {
	start := time.Now()
	res, err := o.recommender.Recommend(ctx, names, preference)
	callDuration.WithLabelValues("recommend").Observe(time.Since(start).Seconds())
	if err != nil {
		return o.fail(id, kind, "recommend", err)
	}

	if err := o.guarded(id, "recommend", func() {
		o.recipes = res.Recipes
		o.serviceList = res.ShoppingList
		o.stage = Done
	}); err != nil {
		runsTotal.WithLabelValues(kind, "superseded").Inc()
		return err
	}
	runsTotal.WithLabelValues(kind, "done").Inc()
	o.log.Info("pipeline run done", "run", id, "recipes", len(res.Recipes))
	return nil
}

// Reset returns to Idle, drops every model and clears the session store.
// Runs still in flight are superseded.
func (o *Orchestrator) Reset(ctx context.Context) error {
	o.begin(Idle, func() {
		o.clearResultsLocked()
		o.preference = ""
		o.images.Clear()
	})
	if err := o.store.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

func (o *Orchestrator) clearResultsLocked() {
	o.ingredients.Reset()
	o.recipes = nil
	o.serviceList = nil
	o.shopping.Clear()
}

// SelectImage makes p the current image and carries it over in the session
// store. Results built from the previous image are dropped.
func (o *Orchestrator) SelectImage(ctx context.Context, p *imagesource.Payload) (*imagesource.Preview, error) {
	if p == nil || len(p.Data) == 0 {
		return nil, &failure.InvalidImageError{}
	}

	var preview *imagesource.Preview
	var err error
	o.begin(Idle, func() {
		preview, err = o.images.Select(p)
		o.clearResultsLocked()
	})
	if err != nil {
		return nil, err
	}
	if err := o.store.Put(ctx, session.KeyImage, p.DataURL()); err != nil {
		return nil, fmt.Errorf("failed to store image: %w", err)
	}
	return preview, nil
}

// Preview returns the preview of the selected image, or nil.
func (o *Orchestrator) Preview() *imagesource.Preview {
	return o.images.Preview()
}

// SetPreference stores the free-text preference sent with the next
// recommendation.
func (o *Orchestrator) SetPreference(ctx context.Context, text string) error {
	o.mutate(func() bool {
		changed := o.preference != text
		o.preference = text
		return changed
	})
	if err := o.store.Put(ctx, session.KeyPreference, text); err != nil {
		return fmt.Errorf("failed to store preference: %w", err)
	}
	return nil
}

// AddIngredient appends name unless it is empty or already listed.
func (o *Orchestrator) AddIngredient(name string) bool {
	var added bool
	o.mutate(func() bool {
		added = o.ingredients.Add(name)
		return added
	})
	return added
}

// RenameIngredient renames entry i, keeping the set unique.
func (o *Orchestrator) RenameIngredient(i int, name string) error {
	var err error
	o.mutate(func() bool {
		err = o.ingredients.Rename(i, name)
		return err == nil
	})
	return err
}

// RemoveIngredient deletes entry i. Out of range is a no-op.
func (o *Orchestrator) RemoveIngredient(i int) bool {
	var removed bool
	o.mutate(func() bool {
		removed = o.ingredients.Remove(i)
		return removed
	})
	return removed
}

// AddMissing merges the missing items of recipe i into the shopping list.
func (o *Orchestrator) AddMissing(i int) (int, error) {
	var added int
	var err error
	o.mutate(func() bool {
		if i < 0 || i >= len(o.recipes) {
			err = ErrRecipeIndex
			return false
		}
		added = o.shopping.MergeMissing(o.recipes[i].MissingItems)
		return added > 0
	})
	return added, err
}

// MergeMissing merges free-text items into the shopping list.
func (o *Orchestrator) MergeMissing(items []string) int {
	var added int
	o.mutate(func() bool {
		added = o.shopping.MergeMissing(items)
		return added > 0
	})
	return added
}

// RemoveShoppingItem deletes shopping item i. Out of range is a no-op.
func (o *Orchestrator) RemoveShoppingItem(i int) bool {
	var removed bool
	o.mutate(func() bool {
		removed = o.shopping.Remove(i)
		return removed
	})
	return removed
}

// ClearShopping empties the shopping list.
func (o *Orchestrator) ClearShopping() {
	o.mutate(func() bool {
		changed := o.shopping.Len() > 0
		o.shopping.Clear()
		return changed
	})
}

// ShoppingText is the shopping list as clipboard text.
func (o *Orchestrator) ShoppingText() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.shopping.ExportText()
}
