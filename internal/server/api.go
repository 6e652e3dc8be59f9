package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"traj2gps/internal/interpolate"
	"traj2gps/internal/projection"
)

const maxBodyBytes = 8 << 20

// InterpolateRequest carries either explicit queries or bare times. Bare
// times are answered with their index as ID.
type InterpolateRequest struct {
	Queries []interpolate.Query `json:"queries,omitempty"`
	Times   []float64           `json:"times,omitempty"`
}

func (r InterpolateRequest) queries() []interpolate.Query {
	if len(r.Queries) > 0 {
		return r.Queries
	}
	out := make([]interpolate.Query, len(r.Times))
	for i, t := range r.Times {
		out[i] = interpolate.Query{ID: strconv.Itoa(i), Time: t}
	}
	return out
}

// PositionResult is one answered query, with geodetic coordinates when the
// server has a projector.
type PositionResult struct {
	ID   string  `json:"id"`
	Time float64 `json:"time"`
	interpolate.Position
	Geodetic *projection.Geodetic `json:"geodetic,omitempty"`
}

type InterpolateResponse struct {
	Kernel  string           `json:"kernel"`
	CRS     string           `json:"crs"`
	Results []PositionResult `json:"results"`
}

type rangeErrorBody struct {
	Error string  `json:"error"`
	Side  string  `json:"side"`
	Query float64 `json:"query"`
	Bound float64 `json:"bound"`
}

func (s *Server) handleTrajectory(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		writeError(w, http.StatusServiceUnavailable, "no trajectory loaded")
		return
	}
	st := s.engine.Store()
	writeJSON(w, http.StatusOK, map[string]any{
		"crs":    st.CRS(),
		"kernel": s.engine.Kernel().String(),
		"stats":  st.Summarize(),
	})
}

func (s *Server) handleInterpolate(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		writeError(w, http.StatusServiceUnavailable, "no trajectory loaded")
		return
	}
	var req InterpolateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	queries := req.queries()
	start := time.Now()
	results, err := s.engine.InterpolateBatch(queries)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.metrics.ObserveBatch(s.engine.Kernel().String(), len(results), time.Since(start))

	resp := InterpolateResponse{
		Kernel:  s.engine.Kernel().String(),
		CRS:     s.engine.Store().CRS(),
		Results: make([]PositionResult, len(results)),
	}
	for i, res := range results {
		pr := PositionResult{ID: res.ID, Time: queries[i].Time, Position: res.Position}
		if s.projector != nil {
			g, err := s.projector.Inverse(res.Easting, res.Northing, res.Height)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("query %s: %v", res.ID, err))
				return
			}
			pr.Geodetic = &g
		}
		resp.Results[i] = pr
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		writeError(w, http.StatusServiceUnavailable, "no trajectory loaded")
		return
	}
	var req InterpolateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	times := req.Times
	if len(times) == 0 {
		for _, q := range req.Queries {
			times = append(times, q.Time)
		}
	}
	cov, err := s.engine.ValidateRange(times)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cov)
}

func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	var rerr *interpolate.RangeError
	if errors.As(err, &rerr) {
		s.metrics.RangeFailure(string(rerr.Side))
		writeJSON(w, http.StatusUnprocessableEntity, rangeErrorBody{
			Error: err.Error(),
			Side:  string(rerr.Side),
			Query: rerr.Query,
			Bound: rerr.Bound,
		})
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
