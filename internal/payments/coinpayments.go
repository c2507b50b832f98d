package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

// Processor transaction status codes.
const (
	txnStatusCancelled = -1
	txnStatusConfirmed = 1
)

// Processor is the HMAC-signed client for the payment processor's single
// generic endpoint.
type Processor struct {
	config *Config
	client *resty.Client
	logger *logrus.Logger
}

// NewProcessor initializes a processor client.
func NewProcessor(config *Config, logger *logrus.Logger) *Processor {
	return &Processor{
		config: config,
		client: resty.New().SetTimeout(20 * time.Second),
		logger: logger,
	}
}

// apiEnvelope is the processor's response wrapper.
type apiEnvelope struct {
	Error  string          `json:"error"`
	Result json.RawMessage `json:"result"`
}

// Sign produces the request signature: parameters sorted by key, joined as
// k=v pairs with '&', HMAC-SHA512 with the private key, hex-encoded.
func Sign(params map[string]string, privateKey string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+params[k])
	}

	mac := hmac.New(sha512.New, []byte(privateKey))
	mac.Write([]byte(strings.Join(pairs, "&")))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyIPN checks the webhook signature: HMAC-SHA512 of the raw request
// body against the shared IPN secret, compared in constant time.
func VerifyIPN(body []byte, signature, ipnSecret string) bool {
	if signature == "" || ipnSecret == "" {
		return false
	}
	mac := hmac.New(sha512.New, []byte(ipnSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// call issues one signed command against the generic endpoint.
func (p *Processor) call(ctx context.Context, cmd string, params map[string]string, out interface{}) error {
	form := map[string]string{
		"cmd":     cmd,
		"key":     p.config.PublicKey,
		"version": "1",
		"format":  "json",
	}
	for k, v := range params {
		form[k] = v
	}

	var envelope apiEnvelope
	resp, err := p.client.R().
		SetContext(ctx).
		SetHeader("HMAC", Sign(form, p.config.PrivateKey)).
		SetFormData(form).
		SetResult(&envelope).
		Post(p.config.APIURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVerification, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: processor returned status %d", ErrVerification, resp.StatusCode())
	}
	if envelope.Error != "" && envelope.Error != "ok" {
		return fmt.Errorf("%w: %s", ErrVerification, envelope.Error)
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("%w: malformed processor result: %v", ErrVerification, err)
		}
	}
	return nil
}

// CreatedTransaction is the processor's answer to create_transaction.
type CreatedTransaction struct {
	TxnID   string `json:"txn_id"`
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

// CreateTransaction allocates a receiving address for the given amount.
func (p *Processor) CreateTransaction(ctx context.Context, usdAmount float64, cryptoType, buyerID string) (*CreatedTransaction, error) {
	var created CreatedTransaction
	err := p.call(ctx, "create_transaction", map[string]string{
		"amount":    strconv.FormatFloat(usdAmount, 'f', 2, 64),
		"currency1": "USD",
		"currency2": strings.ToUpper(cryptoType),
		"custom":    buyerID,
	}, &created)
	if err != nil {
		return nil, err
	}
	if created.TxnID == "" || created.Address == "" {
		return nil, fmt.Errorf("%w: create_transaction response missing txn_id or address", ErrVerification)
	}
	return &created, nil
}

// TxnInfo is the processor's answer to get_tx_info.
type TxnInfo struct {
	Status     int    `json:"status"`
	StatusText string `json:"status_text"`
}

// GetTxInfo queries the processor for a transaction's status.
func (p *Processor) GetTxInfo(ctx context.Context, txnID string) (*TxnInfo, error) {
	var info TxnInfo
	err := p.call(ctx, "get_tx_info", map[string]string{"txid": txnID}, &info)
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// Rates fetches current USD exchange rates per crypto currency.
func (p *Processor) Rates(ctx context.Context) (map[string]float64, error) {
	var raw map[string]struct {
		RateBTC string `json:"rate_btc"`
		IsFiat  int    `json:"is_fiat"`
	}
	if err := p.call(ctx, "rates", map[string]string{"short": "1"}, &raw); err != nil {
		return nil, err
	}

	btcUSD := 0.0
	if usd, ok := raw["USD"]; ok {
		rate, err := strconv.ParseFloat(usd.RateBTC, 64)
		if err == nil && rate > 0 {
			btcUSD = 1 / rate
		}
	}
	if btcUSD == 0 {
		return nil, fmt.Errorf("%w: rates response missing USD reference", ErrVerification)
	}

	rates := make(map[string]float64)
	for symbol, entry := range raw {
		if entry.IsFiat == 1 {
			continue
		}
		rateBTC, err := strconv.ParseFloat(entry.RateBTC, 64)
		if err != nil || rateBTC <= 0 {
			continue
		}
		rates[symbol] = rateBTC * btcUSD
	}
	return rates, nil
}
