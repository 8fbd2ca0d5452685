package mint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/hashpool/gonuts/cashu"
	"github.com/hashpool/gonuts/cashu/nuts/nut01"
	"github.com/hashpool/gonuts/cashu/nuts/nut02"
	"github.com/hashpool/gonuts/cashu/nuts/nut03"
	"github.com/hashpool/gonuts/cashu/nuts/nut04"
	"github.com/hashpool/gonuts/cashu/nuts/nut05"
	"github.com/hashpool/gonuts/cashu/nuts/nut07"
	"github.com/hashpool/gonuts/cashu/nuts/nut09"
	"github.com/hashpool/gonuts/cashu/nuts/nutxx"
	"github.com/hashpool/gonuts/crypto"
	"github.com/hashpool/gonuts/mint/storage"
)

const defaultMeltTimeout = 60 * time.Second

// MintServer exposes a Mint over the NUT HTTP endpoint table, plus the
// mining-share/batch/lookup endpoints and the NUT-17 websocket.
type MintServer struct {
	httpServer  *http.Server
	mint        *Mint
	ws          *WebsocketManager
	logger      *slog.Logger
	meltTimeout time.Duration
}

// SetupMintServer builds a MintServer around an already-loaded Mint.
func SetupMintServer(m *Mint, cfg ServerConfig) (*MintServer, error) {
	meltTimeout := defaultMeltTimeout
	if cfg.MeltTimeout > 0 {
		meltTimeout = time.Duration(cfg.MeltTimeout) * time.Second
	}

	server := &MintServer{
		mint:        m,
		ws:          NewWebSocketManager(m),
		logger:      m.Logger(),
		meltTimeout: meltTimeout,
	}
	server.setupHttpServer(cfg.Port)
	return server, nil
}

func (ms *MintServer) setupHttpServer(port int) {
	r := mux.NewRouter()

	r.HandleFunc("/v1/keys", ms.getActiveKeysets).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/v1/keysets", ms.getKeysetsList).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/v1/keys/{id}", ms.getKeysetById).Methods(http.MethodGet, http.MethodOptions)

	r.HandleFunc("/v1/mint/quote/bolt11", ms.mintQuoteRequest).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/v1/mint/quote/bolt11/{quote_id}", ms.mintQuoteState).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/v1/mint/bolt11", ms.mintTokensRequest).Methods(http.MethodPost, http.MethodOptions)

	r.HandleFunc("/v1/mint/quote/mining_share", ms.mintQuoteMiningShareRequest).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/v1/mint/quote/mining_share/{quote_id}", ms.mintQuoteMiningShareState).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/v1/mint/mining_share", ms.mintMiningShareRequest).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/v1/mint/batch", ms.batchMintRequest).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/v1/mint/quote/lookup", ms.lookupMintQuotesRequest).Methods(http.MethodPost, http.MethodOptions)

	r.HandleFunc("/v1/swap", ms.swapRequest).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/v1/melt/quote/bolt11", ms.meltQuoteRequest).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/v1/melt/quote/bolt11/{quote_id}", ms.meltQuoteState).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/v1/melt/bolt11", ms.meltTokens).Methods(http.MethodPost, http.MethodOptions)

	r.HandleFunc("/v1/checkstate", ms.checkState).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/v1/restore", ms.restore).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/v1/info", ms.mintInfo).Methods(http.MethodGet, http.MethodOptions)

	r.HandleFunc("/v1/ws", ms.ws.serveWS)

	r.Use(setupHeaders)

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	if port == 0 {
		addr = "127.0.0.1:3338"
	}
	ms.httpServer = &http.Server{Addr: addr, Handler: r}
}

// Start blocks serving the mint's HTTP API.
func (ms *MintServer) Start() error {
	ms.logger.Info("mint server listening on: " + ms.httpServer.Addr)
	err := ms.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server and the websocket manager.
func (ms *MintServer) Shutdown() error {
	ms.ws.Shutdown()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return ms.httpServer.Shutdown(ctx)
}

func setupHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		rw.Header().Set("Access-Control-Allow-Origin", "*")
		rw.Header().Set("Access-Control-Allow-Credentials", "true")
		rw.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		rw.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, origin")

		if req.Method == http.MethodOptions {
			return
		}
		next.ServeHTTP(rw, req)
	})
}

func (ms *MintServer) writeResponse(rw http.ResponseWriter, req *http.Request, response []byte, logmsg string) {
	if logmsg != "" {
		ms.logger.Info(logmsg, slog.Group("request", slog.String("method", req.Method), slog.String("url", req.URL.String())))
	}
	rw.Write(response)
}

// cashuErrCode pulls the wire code out of err regardless of whether it
// was returned as cashu.Error (the sentinel values in cashu/cashu.go)
// or *cashu.Error (cashu.BuildCashuError).
func cashuErrCode(err error) (cashu.CashuErrCode, bool) {
	switch e := err.(type) {
	case *cashu.Error:
		return e.Code, true
	case cashu.Error:
		return e.Code, true
	default:
		return 0, false
	}
}

func (ms *MintServer) writeErr(rw http.ResponseWriter, req *http.Request, err error, errLogMsg ...string) {
	code := http.StatusBadRequest
	if cashuCode, ok := cashuErrCode(err); ok {
		switch cashuCode {
		case cashu.MeltQuoteErrCode, cashu.UnknownQuoteErrCode:
			code = http.StatusNotFound
		case cashu.MintQuoteAlreadyIssuedErrCode:
			code = http.StatusConflict
		case cashu.DBErrCode, cashu.LightningBackendErrCode:
			code = http.StatusInternalServerError
			err = cashu.StandardErr
		}
	}

	logmsg := err.Error()
	if len(errLogMsg) > 0 {
		logmsg = errLogMsg[0]
	}
	ms.logger.Error(logmsg, slog.Group("request", slog.String("method", req.Method),
		slog.String("url", req.URL.String()), slog.Int("code", code)))

	rw.WriteHeader(code)
	errRes, _ := json.Marshal(err)
	rw.Write(errRes)
}

func (ms *MintServer) getActiveKeysets(rw http.ResponseWriter, req *http.Request) {
	jsonRes, err := json.Marshal(buildKeysResponse(ms.mint.ActiveKeysets()))
	if err != nil {
		ms.writeErr(rw, req, cashu.StandardErr)
		return
	}
	ms.writeResponse(rw, req, jsonRes, "")
}

func (ms *MintServer) getKeysetsList(rw http.ResponseWriter, req *http.Request) {
	res := nut02.GetKeysetsResponse{}
	for _, keyset := range ms.mint.Keysets() {
		res.Keysets = append(res.Keysets, nut02.Keyset{
			Id: keyset.Id, Unit: keyset.Unit, Active: keyset.Active, InputFeePpk: keyset.InputFeePpk,
		})
	}
	jsonRes, err := json.Marshal(res)
	if err != nil {
		ms.writeErr(rw, req, cashu.StandardErr)
		return
	}
	ms.writeResponse(rw, req, jsonRes, "")
}

func (ms *MintServer) getKeysetById(rw http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]
	keyset, ok := ms.mint.Keysets()[id]
	if !ok {
		ms.writeErr(rw, req, cashu.UnknownKeysetErr)
		return
	}
	jsonRes, err := json.Marshal(buildKeysResponse(map[string]crypto.MintKeyset{keyset.Id: keyset}))
	if err != nil {
		ms.writeErr(rw, req, cashu.StandardErr)
		return
	}
	ms.writeResponse(rw, req, jsonRes, "")
}

func buildKeysResponse(keysets map[string]crypto.MintKeyset) nut01.GetKeysResponse {
	res := nut01.GetKeysResponse{}
	for _, keyset := range keysets {
		res.Keysets = append(res.Keysets, nut01.Keyset{Id: keyset.Id, Unit: keyset.Unit, Keys: keyset.PublicKeys()})
	}
	return res
}

func (ms *MintServer) mintQuoteRequest(rw http.ResponseWriter, req *http.Request) {
	var mintReq nut04.PostMintQuoteBolt11Request
	if err := decodeJsonReqBody(req, &mintReq); err != nil {
		ms.writeErr(rw, req, err)
		return
	}

	quote, err := ms.mint.RequestMintQuote(BOLT11_METHOD, mintReq.Amount, mintReq.Unit)
	if err != nil {
		ms.writeErr(rw, req, err)
		return
	}

	jsonRes, err := json.Marshal(mintQuoteBolt11Response(quote))
	if err != nil {
		ms.writeErr(rw, req, cashu.StandardErr)
		return
	}
	ms.writeResponse(rw, req, jsonRes, fmt.Sprintf("bolt11 mint quote request for %v sat", mintReq.Amount))
}

func (ms *MintServer) mintQuoteState(rw http.ResponseWriter, req *http.Request) {
	quoteId := mux.Vars(req)["quote_id"]
	quote, err := ms.mint.GetMintQuoteState(BOLT11_METHOD, quoteId)
	if err != nil {
		ms.writeErr(rw, req, err)
		return
	}

	jsonRes, err := json.Marshal(mintQuoteBolt11Response(quote))
	if err != nil {
		ms.writeErr(rw, req, cashu.StandardErr)
		return
	}
	ms.writeResponse(rw, req, jsonRes, "")
}

func mintQuoteBolt11Response(quote storage.MintQuote) nut04.PostMintQuoteBolt11Response {
	return nut04.PostMintQuoteBolt11Response{
		Quote:   quote.Id.String(),
		Request: quote.PaymentRequest,
		Paid:    quote.State == nut04.Paid || quote.State == nut04.Issued,
		State:   quote.State,
		Expiry:  int64(quote.Expiry),
	}
}

func (ms *MintServer) mintTokensRequest(rw http.ResponseWriter, req *http.Request) {
	var mintReq nut04.PostMintBolt11Request
	if err := decodeJsonReqBody(req, &mintReq); err != nil {
		ms.writeErr(rw, req, err)
		return
	}

	sigs, err := ms.mint.MintTokens(BOLT11_METHOD, mintReq.Quote, mintReq.Outputs)
	if err != nil {
		ms.writeErr(rw, req, err)
		return
	}

	jsonRes, err := json.Marshal(nut04.PostMintBolt11Response{Signatures: sigs})
	if err != nil {
		ms.writeErr(rw, req, cashu.StandardErr)
		return
	}
	ms.writeResponse(rw, req, jsonRes, "issued signatures on bolt11 mint request")
}

func (ms *MintServer) mintQuoteMiningShareRequest(rw http.ResponseWriter, req *http.Request) {
	var mintReq nutxx.MintQuoteMiningShareRequest
	if err := decodeJsonReqBody(req, &mintReq); err != nil {
		ms.writeErr(rw, req, err)
		return
	}

	quote, err := ms.mint.RequestMiningShareQuote(mintReq)
	if err != nil {
		ms.writeErr(rw, req, err)
		return
	}

	jsonRes, err := json.Marshal(miningShareQuoteResponse(quote))
	if err != nil {
		ms.writeErr(rw, req, cashu.StandardErr)
		return
	}
	ms.writeResponse(rw, req, jsonRes, fmt.Sprintf("mining-share mint quote request for %v hash", mintReq.Amount))
}

func (ms *MintServer) mintQuoteMiningShareState(rw http.ResponseWriter, req *http.Request) {
	quoteId := mux.Vars(req)["quote_id"]
	quote, err := ms.mint.GetMiningShareQuoteState(quoteId)
	if err != nil {
		ms.writeErr(rw, req, err)
		return
	}

	jsonRes, err := json.Marshal(miningShareQuoteResponse(quote))
	if err != nil {
		ms.writeErr(rw, req, cashu.StandardErr)
		return
	}
	ms.writeResponse(rw, req, jsonRes, "")
}

func miningShareQuoteResponse(quote storage.MintQuote) nutxx.MintQuoteMiningShareResponse {
	return nutxx.MintQuoteMiningShareResponse{
		Quote:    quote.Id.String(),
		Amount:   quote.Amount,
		Unit:     quote.Unit.String(),
		State:    wireQuoteState(quote.State),
		KeysetId: quote.KeysetId,
		Expiry:   int64(quote.Expiry),
	}
}

func (ms *MintServer) mintMiningShareRequest(rw http.ResponseWriter, req *http.Request) {
	var mintReq nutxx.MintMiningShareRequest
	if err := decodeJsonReqBody(req, &mintReq); err != nil {
		ms.writeErr(rw, req, err)
		return
	}

	sigs, err := ms.mint.MintMiningShare(mintReq)
	if err != nil {
		ms.writeErr(rw, req, err)
		return
	}

	jsonRes, err := json.Marshal(nutxx.MintMiningShareResponse{Signatures: sigs})
	if err != nil {
		ms.writeErr(rw, req, cashu.StandardErr)
		return
	}
	ms.writeResponse(rw, req, jsonRes, "issued signatures on mining-share mint request")
}

func (ms *MintServer) batchMintRequest(rw http.ResponseWriter, req *http.Request) {
	var batchReq nutxx.BatchMintRequest
	if err := decodeJsonReqBody(req, &batchReq); err != nil {
		ms.writeErr(rw, req, err)
		return
	}

	sigs, err := ms.mint.BatchMint(batchReq)
	if err != nil {
		ms.writeErr(rw, req, err)
		return
	}

	jsonRes, err := json.Marshal(nutxx.BatchMintResponse{Signatures: sigs})
	if err != nil {
		ms.writeErr(rw, req, cashu.StandardErr)
		return
	}
	ms.writeResponse(rw, req, jsonRes, fmt.Sprintf("issued signatures for batch of %v quotes", len(batchReq.Quote)))
}

func (ms *MintServer) lookupMintQuotesRequest(rw http.ResponseWriter, req *http.Request) {
	var lookupReq nutxx.LookupRequest
	if err := decodeJsonReqBody(req, &lookupReq); err != nil {
		ms.writeErr(rw, req, err)
		return
	}

	res, err := ms.mint.LookupMiningShareQuotes(lookupReq)
	if err != nil {
		ms.writeErr(rw, req, err)
		return
	}

	jsonRes, err := json.Marshal(res)
	if err != nil {
		ms.writeErr(rw, req, cashu.StandardErr)
		return
	}
	ms.writeResponse(rw, req, jsonRes, "")
}

func (ms *MintServer) swapRequest(rw http.ResponseWriter, req *http.Request) {
	var swapReq nut03.PostSwapRequest
	if err := decodeJsonReqBody(req, &swapReq); err != nil {
		ms.writeErr(rw, req, err)
		return
	}

	sigs, err := ms.mint.Swap(swapReq.Inputs, swapReq.Outputs)
	if err != nil {
		ms.writeErr(rw, req, err)
		return
	}

	jsonRes, err := json.Marshal(nut03.PostSwapResponse{Signatures: sigs})
	if err != nil {
		ms.writeErr(rw, req, cashu.StandardErr)
		return
	}
	ms.writeResponse(rw, req, jsonRes, "returned signatures on swap request")
}

func (ms *MintServer) meltQuoteRequest(rw http.ResponseWriter, req *http.Request) {
	var meltReq nut05.PostMeltQuoteBolt11Request
	if err := decodeJsonReqBody(req, &meltReq); err != nil {
		ms.writeErr(rw, req, err)
		return
	}

	quote, err := ms.mint.RequestMeltQuote(BOLT11_METHOD, meltReq.Request, meltReq.Unit)
	if err != nil {
		ms.writeErr(rw, req, err)
		return
	}

	jsonRes, err := json.Marshal(meltQuoteBolt11Response(quote))
	if err != nil {
		ms.writeErr(rw, req, cashu.StandardErr)
		return
	}
	ms.writeResponse(rw, req, jsonRes, "bolt11 melt quote request")
}

func (ms *MintServer) meltQuoteState(rw http.ResponseWriter, req *http.Request) {
	quoteId := mux.Vars(req)["quote_id"]
	ctx, cancel := context.WithTimeout(req.Context(), ms.meltTimeout)
	defer cancel()

	quote, err := ms.mint.GetMeltQuoteState(ctx, BOLT11_METHOD, quoteId)
	if err != nil {
		ms.writeErr(rw, req, err)
		return
	}

	jsonRes, err := json.Marshal(meltQuoteBolt11Response(quote))
	if err != nil {
		ms.writeErr(rw, req, cashu.StandardErr)
		return
	}
	ms.writeResponse(rw, req, jsonRes, "")
}

func meltQuoteBolt11Response(quote storage.MeltQuote) nut05.PostMeltQuoteBolt11Response {
	return nut05.PostMeltQuoteBolt11Response{
		Quote:      quote.Id,
		Amount:     quote.Amount,
		FeeReserve: quote.FeeReserve,
		Paid:       quote.State == nut05.Paid,
		Expiry:     int64(quote.Expiry),
	}
}

func (ms *MintServer) meltTokens(rw http.ResponseWriter, req *http.Request) {
	var meltReq nut05.PostMeltBolt11Request
	if err := decodeJsonReqBody(req, &meltReq); err != nil {
		ms.writeErr(rw, req, err)
		return
	}

	ctx, cancel := context.WithTimeout(req.Context(), ms.meltTimeout)
	defer cancel()

	quote, err := ms.mint.MeltTokens(ctx, BOLT11_METHOD, meltReq.Quote, meltReq.Inputs)
	if err != nil {
		ms.writeErr(rw, req, err)
		return
	}

	jsonRes, err := json.Marshal(nut05.PostMeltBolt11Response{
		Paid:     quote.State == nut05.Paid,
		Preimage: quote.Preimage,
	})
	if err != nil {
		ms.writeErr(rw, req, cashu.StandardErr)
		return
	}
	ms.writeResponse(rw, req, jsonRes, "")
}

func (ms *MintServer) checkState(rw http.ResponseWriter, req *http.Request) {
	var checkReq nut07.PostCheckStateRequest
	if err := decodeJsonReqBody(req, &checkReq); err != nil {
		ms.writeErr(rw, req, err)
		return
	}

	states, err := ms.mint.ProofsStateCheck(checkReq.Ys)
	if err != nil {
		ms.writeErr(rw, req, err)
		return
	}

	jsonRes, err := json.Marshal(nut07.PostCheckStateResponse{States: states})
	if err != nil {
		ms.writeErr(rw, req, cashu.StandardErr)
		return
	}
	ms.writeResponse(rw, req, jsonRes, "")
}

func (ms *MintServer) restore(rw http.ResponseWriter, req *http.Request) {
	var restoreReq nut09.PostRestoreRequest
	if err := decodeJsonReqBody(req, &restoreReq); err != nil {
		ms.writeErr(rw, req, err)
		return
	}

	outputs, sigs, err := ms.mint.RestoreSignatures(restoreReq.Outputs)
	if err != nil {
		ms.writeErr(rw, req, err)
		return
	}

	jsonRes, err := json.Marshal(nut09.PostRestoreResponse{Outputs: outputs, Signatures: sigs})
	if err != nil {
		ms.writeErr(rw, req, cashu.StandardErr)
		return
	}
	ms.writeResponse(rw, req, jsonRes, "")
}

func (ms *MintServer) mintInfo(rw http.ResponseWriter, req *http.Request) {
	info, err := ms.mint.RetrieveMintInfo()
	if err != nil {
		ms.writeErr(rw, req, cashu.StandardErr, err.Error())
		return
	}
	jsonRes, err := json.Marshal(info)
	if err != nil {
		ms.writeErr(rw, req, cashu.StandardErr)
		return
	}
	ms.writeResponse(rw, req, jsonRes, "")
}

func decodeJsonReqBody(req *http.Request, dst any) error {
	ct := req.Header.Get("Content-Type")
	if ct != "" && strings.ToLower(strings.Split(ct, ";")[0]) != "application/json" {
		return cashu.BuildCashuError("Content-Type header is not application/json", cashu.StandardErrCode)
	}

	dec := json.NewDecoder(req.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		switch {
		case errors.As(err, &syntaxErr):
			return cashu.BuildCashuError(fmt.Sprintf("bad json at %d", syntaxErr.Offset), cashu.StandardErrCode)
		case errors.As(err, &typeErr):
			return cashu.BuildCashuError(fmt.Sprintf("invalid %v for field %q", typeErr.Value, typeErr.Field), cashu.StandardErrCode)
		case errors.Is(err, io.EOF):
			return cashu.EmptyBodyErr
		case strings.HasPrefix(err.Error(), "json: unknown field "):
			field := strings.TrimPrefix(err.Error(), "json: unknown field ")
			return cashu.BuildCashuError(fmt.Sprintf("request body contains unknown field %s", field), cashu.StandardErrCode)
		default:
			return cashu.BuildCashuError(err.Error(), cashu.StandardErrCode)
		}
	}
	return nil
}
