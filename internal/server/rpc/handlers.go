package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/contalabs/bankd/internal/core/account"
	"github.com/contalabs/bankd/internal/core/money"
	"github.com/contalabs/bankd/internal/core/vault"
)

// operationResult is the JSON view of a single-account mutation. Denied
// attempts come back as success envelopes: the attempt was recorded, the
// denied flag and reason say why no money moved.
type operationResult struct {
	AccountID int64              `json:"account_id"`
	Denied    bool               `json:"denied,omitempty"`
	Reason    string             `json:"reason,omitempty"`
	Balance   int64              `json:"balance"`
	Operation *account.Operation `json:"operation,omitempty"`
}

type transferResult struct {
	AccountID    int64                `json:"account_id"`
	Denied       bool                 `json:"denied,omitempty"`
	Reason       string               `json:"reason,omitempty"`
	Balance      int64                `json:"balance"`
	LocalOps     []*account.Operation `json:"local_operations,omitempty"`
	RecipientOps []*account.Operation `json:"recipient_operations,omitempty"`
}

type refundResult struct {
	AccountID int64                    `json:"account_id"`
	Balances  map[money.Currency]int64 `json:"balances,omitempty"`
	Operation *account.Operation       `json:"operation,omitempty"`
}

type exchangeResult struct {
	AccountID int64                    `json:"account_id"`
	Denied    bool                     `json:"denied,omitempty"`
	Reason    string                   `json:"reason,omitempty"`
	Balances  map[money.Currency]int64 `json:"balances,omitempty"`
	Operation *account.Operation       `json:"operation,omitempty"`
}

func viewOperation(res *vault.Result) operationResult {
	return operationResult{
		AccountID: res.AccountID,
		Denied:    res.Denied,
		Reason:    res.Reason,
		Balance:   res.Balance,
		Operation: res.Op,
	}
}

func viewTransfer(res *vault.TransferResult) transferResult {
	return transferResult{
		AccountID:    res.AccountID,
		Denied:       res.Denied,
		Reason:       res.Reason,
		Balance:      res.Balance,
		LocalOps:     res.LocalOps,
		RecipientOps: res.RecipientOps,
	}
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	s.handleMutation(w, r, s.vault.Deposit)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	s.handleMutation(w, r, s.vault.Withdraw)
}

type mutationFunc func(ctx context.Context, accountID, amount int64, currency money.Currency, extra map[string]any) (*vault.Result, error)

func (s *Server) handleMutation(w http.ResponseWriter, r *http.Request, apply mutationFunc) {
	id, err := accountID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalidRequest", err.Error())
		return
	}
	body, err := decodeBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalidRequest", err.Error())
		return
	}
	amount, err := requireInt64(body, "amount")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalidRequest", err.Error())
		return
	}
	currency, err := requireCurrency(body, "currency")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalidRequest", err.Error())
		return
	}

	res, err := apply(r.Context(), id, amount, currency, normalizeExtras(body))
	if err != nil {
		writeVaultError(w, err)
		return
	}
	writeResult(w, viewOperation(res))
}

func (s *Server) handleCard(w http.ResponseWriter, r *http.Request) {
	id, err := accountID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalidRequest", err.Error())
		return
	}
	body, err := decodeBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalidRequest", err.Error())
		return
	}
	amount, err := requireInt64(body, "amount")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalidRequest", err.Error())
		return
	}
	currency, err := requireCurrency(body, "currency")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalidRequest", err.Error())
		return
	}
	cardID, err := requireInt64(body, "card_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalidRequest", err.Error())
		return
	}

	res, err := s.vault.CardTransaction(r.Context(), id, amount, currency, cardID, normalizeExtras(body))
	if err != nil {
		writeVaultError(w, err)
		return
	}
	writeResult(w, viewOperation(res))
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	id, err := accountID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalidRequest", err.Error())
		return
	}
	body, err := decodeBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalidRequest", err.Error())
		return
	}
	amount, err := requireInt64(body, "amount")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalidRequest", err.Error())
		return
	}
	currency, err := requireCurrency(body, "currency")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalidRequest", err.Error())
		return
	}
	recipient, single, err := takeInt64(body, "recipient_account_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalidRequest", err.Error())
		return
	}
	shares, split, err := takeShares(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalidRequest", err.Error())
		return
	}
	if single == split {
		writeError(w, http.StatusBadRequest, "invalidRequest",
			"provide exactly one of recipient_account_id or recipients_data")
		return
	}

	extras := normalizeExtras(body)
	var res *vault.TransferResult
	if split {
		res, err = s.vault.TransferSplit(r.Context(), id, amount, currency, shares, extras)
	} else {
		res, err = s.vault.Transfer(r.Context(), id, amount, currency, recipient, extras)
	}
	if err != nil {
		// A result next to the error means the debit leg persisted and
		// one or more credit legs did not.
		if res != nil {
			writeErrorResult(w, http.StatusBadGateway, "recipientFailed", err.Error(), viewTransfer(res))
			return
		}
		writeVaultError(w, err)
		return
	}
	writeResult(w, viewTransfer(res))
}

func (s *Server) handleRefund(w http.ResponseWriter, r *http.Request) {
	id, err := accountID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalidRequest", err.Error())
		return
	}
	body, err := decodeBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalidRequest", err.Error())
		return
	}
	opID, err := requireInt64(body, "operation_to_refund_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalidRequest", err.Error())
		return
	}

	res, err := s.vault.Refund(r.Context(), id, opID, normalizeExtras(body))
	if err != nil {
		// Refused refunds still report the current balances.
		if res != nil {
			status, code := vaultErrorParts(err)
			writeErrorResult(w, status, code, err.Error(), refundResult{
				AccountID: res.AccountID,
				Balances:  res.Balances,
			})
			return
		}
		writeVaultError(w, err)
		return
	}
	writeResult(w, refundResult{
		AccountID: res.AccountID,
		Balances:  res.Balances,
		Operation: res.Op,
	})
}

func (s *Server) handleExchange(w http.ResponseWriter, r *http.Request) {
	id, err := accountID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalidRequest", err.Error())
		return
	}
	body, err := decodeBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalidRequest", err.Error())
		return
	}
	amount, err := requireInt64(body, "amount")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalidRequest", err.Error())
		return
	}
	current, err := requireCurrency(body, "current_currency")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalidRequest", err.Error())
		return
	}
	next, err := requireCurrency(body, "new_currency")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalidRequest", err.Error())
		return
	}

	res, err := s.vault.Exchange(r.Context(), id, amount, current, next, normalizeExtras(body))
	if err != nil {
		writeVaultError(w, err)
		return
	}
	writeResult(w, exchangeResult{
		AccountID: res.AccountID,
		Denied:    res.Denied,
		Reason:    res.Reason,
		Balances:  res.Balances,
		Operation: res.Op,
	})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	id, err := accountID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalidRequest", err.Error())
		return
	}
	raw := r.URL.Query().Get("currency")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "invalidRequest", "currency query parameter is required")
		return
	}
	currency := money.NewCurrency(raw)
	if err := currency.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalidRequest", err.Error())
		return
	}

	balance, err := s.vault.Balance(r.Context(), id, currency)
	if err != nil {
		writeVaultError(w, err)
		return
	}
	writeResult(w, map[string]any{
		"account_id": id,
		"currency":   currency,
		"balance":    balance,
	})
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	id, err := accountID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalidRequest", err.Error())
		return
	}
	balances, err := s.vault.Balances(r.Context(), id)
	if err != nil {
		writeVaultError(w, err)
		return
	}
	writeResult(w, map[string]any{
		"account_id": id,
		"balances":   balances,
	})
}

func (s *Server) handleOperation(w http.ResponseWriter, r *http.Request) {
	id, err := accountID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalidRequest", err.Error())
		return
	}
	opID, err := strconv.ParseInt(r.PathValue("opID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalidRequest", "operation id must be an integer")
		return
	}

	op, found, err := s.vault.Operation(r.Context(), id, opID)
	if err != nil {
		writeVaultError(w, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "notFound", account.ErrOperationNotFound.Error())
		return
	}
	writeResult(w, map[string]any{
		"account_id": id,
		"operation":  op,
	})
}

func (s *Server) handleOperations(w http.ResponseWriter, r *http.Request) {
	id, err := accountID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalidRequest", err.Error())
		return
	}
	q := r.URL.Query()
	ini, err := parseDay(q.Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalidRequest", err.Error())
		return
	}
	fin := ini
	if raw := q.Get("date_fin"); raw != "" {
		fin, err = parseDay(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalidRequest", err.Error())
			return
		}
	}
	if fin.Before(ini) {
		writeError(w, http.StatusBadRequest, "invalidRequest", "date_fin must not precede date")
		return
	}

	ops, err := s.vault.OperationsBetween(r.Context(), id, ini, fin)
	if err != nil {
		writeVaultError(w, err)
		return
	}
	writeResult(w, map[string]any{
		"account_id": id,
		"operations": ops,
		"count":      len(ops),
	})
}

// parseDay reads a YYYY-MM-DD calendar day. Ledger day windows are
// anchored to UTC, so the parsed midnight stays in UTC as well.
func parseDay(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, errors.New("date query parameter is required (YYYY-MM-DD)")
	}
	day, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", raw)
	}
	return day, nil
}

// decodeBody reads the JSON request object with number fidelity kept
// (json.Number, not float64) so integer amounts survive untouched.
func decodeBody(w http.ResponseWriter, r *http.Request) (map[string]any, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()

	body := map[string]any{}
	if err := dec.Decode(&body); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("request body is required")
		}
		return nil, fmt.Errorf("invalid JSON body: %v", err)
	}
	return body, nil
}

// takeInt64 pops an integer field off the body. A present field that is
// not an integral number is an error; fractions are never truncated.
func takeInt64(body map[string]any, key string) (int64, bool, error) {
	raw, ok := body[key]
	if !ok {
		return 0, false, nil
	}
	delete(body, key)

	num, ok := raw.(json.Number)
	if !ok {
		return 0, true, fmt.Errorf("%s must be a number", key)
	}
	n, err := num.Int64()
	if err != nil {
		return 0, true, fmt.Errorf("%s must be an integer", key)
	}
	return n, true, nil
}

func requireInt64(body map[string]any, key string) (int64, error) {
	n, ok, err := takeInt64(body, key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%s is required", key)
	}
	return n, nil
}

func requireCurrency(body map[string]any, key string) (money.Currency, error) {
	raw, ok := body[key]
	if !ok {
		return "", fmt.Errorf("%s is required", key)
	}
	delete(body, key)

	code, ok := raw.(string)
	if !ok || code == "" {
		return "", fmt.Errorf("%s must be a non-empty string", key)
	}
	currency := money.NewCurrency(code)
	if err := currency.Validate(); err != nil {
		return "", err
	}
	return currency, nil
}

// takeShares pops the recipients_data list. Unknown fields of each entry
// ride along as that recipient's extras.
func takeShares(body map[string]any) ([]account.SplitShare, bool, error) {
	raw, ok := body["recipients_data"]
	if !ok {
		return nil, false, nil
	}
	delete(body, "recipients_data")

	list, ok := raw.([]any)
	if !ok {
		return nil, true, errors.New("recipients_data must be an array")
	}
	shares := make([]account.SplitShare, 0, len(list))
	for i, item := range list {
		entry, ok := item.(map[string]any)
		if !ok {
			return nil, true, fmt.Errorf("recipients_data[%d] must be an object", i)
		}
		recipient, err := requireInt64(entry, "account_id")
		if err != nil {
			return nil, true, fmt.Errorf("recipients_data[%d]: %v", i, err)
		}
		pct, ok := entry["percentage"]
		if !ok {
			return nil, true, fmt.Errorf("recipients_data[%d]: percentage is required", i)
		}
		delete(entry, "percentage")
		num, ok := pct.(json.Number)
		if !ok {
			return nil, true, fmt.Errorf("recipients_data[%d]: percentage must be a number", i)
		}
		percentage, err := decimal.NewFromString(num.String())
		if err != nil {
			return nil, true, fmt.Errorf("recipients_data[%d]: percentage must be a number", i)
		}
		shares = append(shares, account.SplitShare{
			AccountID:  recipient,
			Percentage: percentage,
			Extra:      normalizeExtras(entry),
		})
	}
	return shares, true, nil
}

// normalizeExtras converts the leftover body fields into plain values:
// json.Number becomes int64 when integral and float64 otherwise, nested
// objects and arrays are walked.
func normalizeExtras(body map[string]any) map[string]any {
	if len(body) == 0 {
		return nil
	}
	out := make(map[string]any, len(body))
	for k, v := range body {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = normalizeValue(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = normalizeValue(item)
		}
		return out
	default:
		return v
	}
}
