package api

import (
	"errors"
	"fmt"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-chi/chi/v5"

	"github.com/tenfinney/assist"
)

var errBadRequest = fmt.Errorf("bad request")

type contractRequest struct {
	MethodName string `json:"methodName"`
	Parameters []any  `json:"parameters"`
}

// dispatchRequest is the body of POST /v1/transactions. Amounts are decimal
// or 0x-prefixed strings.
type dispatchRequest struct {
	From           string           `json:"from"`
	To             string           `json:"to"`
	Value          string           `json:"value"`
	Gas            uint64           `json:"gas"`
	GasPrice       string           `json:"gasPrice"`
	Data           hexutil.Bytes    `json:"data"`
	Category       string           `json:"categoryCode"`
	Contract       *contractRequest `json:"contract"`
	IdempotencyKey string           `json:"idempotencyKey"`
}

type dispatchResponse struct {
	ID     string        `json:"id"`
	Status assist.Status `json:"status"`
}

func parseAmount(field, s string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(s, 0)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s %q is not a non-negative integer", errBadRequest, field, s)
	}
	return v, nil
}

func parseAddress(field, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %s %q is not an address", errBadRequest, field, s)
	}
	return common.HexToAddress(s), nil
}

func (s *Server) buildRequest(r *http.Request, body dispatchRequest) (*assist.Request, error) {
	to, err := parseAddress("to", body.To)
	if err != nil {
		return nil, err
	}
	value, err := parseAmount("value", body.Value)
	if err != nil {
		return nil, err
	}
	gasPrice, err := parseAmount("gasPrice", body.GasPrice)
	if err != nil {
		return nil, err
	}

	req := s.d.R().
		SetTo(to).
		SetValue(value).
		SetGas(body.Gas).
		SetGasPrice(gasPrice).
		SetData(body.Data).
		SetCategory(body.Category)

	if body.From != "" {
		from, err := parseAddress("from", body.From)
		if err != nil {
			return nil, err
		}
		req.SetFrom(from)
	}
	if body.Contract != nil {
		req.SetContract(body.Contract.MethodName, body.Contract.Parameters...)
	}

	key := body.IdempotencyKey
	if header := r.Header.Get("Idempotency-Key"); header != "" {
		key = header
	}
	req.SetIdempotencyKey(key)
	return req, nil
}

func dispatchStatus(err error) int {
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, assist.ErrAccountZero):
		return http.StatusBadRequest
	case errors.Is(err, assist.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	case errors.Is(err, assist.ErrDuplicateIdempotencyKey):
		return http.StatusConflict
	case errors.Is(err, assist.ErrProviderUnavailable), errors.Is(err, assist.ErrDispatcherClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var body dispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}

	req, err := s.buildRequest(r, body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	tx, err := req.Dispatch(r.Context())
	if err != nil {
		writeError(w, dispatchStatus(err), err)
		return
	}

	resp := dispatchResponse{ID: tx.ID(), Status: assist.StatusAwaitingApproval}
	if record, ok := s.d.Lookup(tx.ID()); ok {
		resp.Status = record.Status
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	records := s.d.Queue()
	if records == nil {
		records = []*assist.TransactionRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	record, ok := s.d.Lookup(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("%w: %s", assist.ErrTxNotFound, id))
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleInPool(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.d.MarkInPool(id)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, assist.ErrTxNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, assist.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}
