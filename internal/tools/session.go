package tools

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"allinone/internal/engine"
	"allinone/internal/intake"
	"allinone/internal/staged"
)

type SessionConfig struct {
	Staged staged.Config
	Admit  intake.AdmitConfig
}

// Session ties one tool to its own intake store and controller. A session
// processes its buffered files at most once at a time.
type Session struct {
	Tool       *Tool
	Store      *intake.Store
	Controller *staged.Controller

	env   Env
	admit intake.AdmitConfig

	// settle orders a finished run's result against Abort.
	settle sync.Mutex
}

func NewSession(tool *Tool, env Env, handles intake.Handles, cfg SessionConfig) (*Session, error) {
	sc := cfg.Staged
	if len(sc.Stages) == 0 {
		sc.Stages = tool.Stages
	}
	sc.ToolID = tool.ID
	if sc.Logger == nil {
		log := env.Log
		sc.Logger = &log
	}

	c, err := staged.New(sc)
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", tool.ID, err)
	}

	admit := cfg.Admit
	admit.Multiple = tool.Multiple
	return &Session{
		Tool:       tool,
		Store:      intake.NewStore(handles),
		Controller: c,
		env:        env,
		admit:      admit,
	}, nil
}

func (s *Session) Admit(ctx context.Context, sources []intake.Source) error {
	return s.Store.Admit(ctx, sources, s.admit)
}

// Process runs the tool over the buffered files and records the outcome in
// the store. An aborted run leaves the store idle and returns staged.ErrAborted.
func (s *Session) Process(ctx context.Context, params Params) (*engine.Blob, error) {
	files := s.Store.Files()
	if len(files) == 0 {
		err := engine.NewError(s.Tool.Domain, CodeNoFiles, errors.New("no files selected"))
		s.Store.Fail(err)
		return nil, err
	}

	inputs := make([]engine.Input, len(files))
	for i, f := range files {
		inputs[i] = engine.Input{Name: f.Name, Data: f.Data}
	}

	s.Store.SetProcessing()
	unsubscribe := s.Controller.Subscribe(func(snap staged.Snapshot) {
		if snap.Active() {
			s.Store.SetProgress(snap.Progress)
		}
	})
	defer unsubscribe()

	log := s.env.Log.With().Str("tool", s.Tool.ID).Int("files", len(inputs)).Logger()
	job := Job{Files: inputs, Params: params, Env: Env{Video: s.env.Video, Log: log}}
	job.Progress = func(p engine.Progress) {
		log.Debug().Int("current", p.Current).Int("total", p.Total).Float64("pct", p.Percentage).Msg("engine progress")
	}

	blob, err := staged.Run(ctx, s.Controller, func(ctx context.Context) (*engine.Blob, error) {
		return s.Tool.Process(ctx, job)
	})
	switch {
	case errors.Is(err, staged.ErrAborted):
		s.Store.Interrupt()
		return nil, err
	case err != nil:
		log.Warn().Err(err).Msg("processing failed")
		s.Store.Fail(err)
		return nil, err
	}

	s.settle.Lock()
	if s.Controller.Snapshot().Stage != staged.Complete {
		s.settle.Unlock()
		s.Store.Interrupt()
		return nil, staged.ErrAborted
	}
	s.Store.SetResult(blob)
	s.settle.Unlock()

	log.Info().Int64("bytes", blob.Size()).Msg("processing complete")
	return blob, nil
}

// OutputName is the download filename for the current result.
func (s *Session) OutputName() string {
	r := s.Store.Result()
	if r == nil {
		return ""
	}
	files := s.Store.Files()
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Name
	}
	return s.Tool.OutputName(names, r.Blob)
}

// Download saves the current result under its output name.
func (s *Session) Download(ctx context.Context, saver intake.Saver) (string, error) {
	return s.Store.DownloadResult(ctx, s.OutputName(), saver)
}

// Abort stops the animation of the active run and returns the store to idle.
// A run whose controller has already completed keeps its result.
func (s *Session) Abort() {
	s.settle.Lock()
	defer s.settle.Unlock()
	if s.Controller.Snapshot().Stage == staged.Complete {
		return
	}
	s.Controller.Abort()
	s.Store.Interrupt()
}

// Reset clears the files, the result and the controller state.
func (s *Session) Reset() {
	s.Controller.Reset()
	s.Store.Reset()
}
