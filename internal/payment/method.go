package payment

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownMethod is returned when decoding a payment method of a type this
// build does not support.
var ErrUnknownMethod = errors.New("payment: unknown payment method")

// Method is a closed set of payment backends. Adding a backend means adding
// one variant here and one handler in the dispatcher; callers are untouched.
type Method interface {
	isMethod()
}

// CardToken charges a tokenized card. Raw card data never enters this system.
type CardToken struct {
	Token string `json:"token"`
}

// WalletTransfer moves an asset to an external wallet.
type WalletTransfer struct {
	WalletAddress string `json:"wallet_address"`
	Asset         string `json:"asset"`
}

func (CardToken) isMethod()      {}
func (WalletTransfer) isMethod() {}

const (
	methodCardToken      = "card_token"
	methodWalletTransfer = "wallet_transfer"
)

type methodEnvelope struct {
	Type          string `json:"type"`
	Token         string `json:"token,omitempty"`
	WalletAddress string `json:"wallet_address,omitempty"`
	Asset         string `json:"asset,omitempty"`
}

// MarshalMethod encodes a method for transport inside a job payload.
func MarshalMethod(m Method) (json.RawMessage, error) {
	var env methodEnvelope
	switch v := m.(type) {
	case CardToken:
		env = methodEnvelope{Type: methodCardToken, Token: v.Token}
	case WalletTransfer:
		env = methodEnvelope{Type: methodWalletTransfer, WalletAddress: v.WalletAddress, Asset: v.Asset}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownMethod, m)
	}
	return json.Marshal(env)
}

// UnmarshalMethod decodes a method from a job payload.
func UnmarshalMethod(raw json.RawMessage) (Method, error) {
	var env methodEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decoding payment method: %w", err)
	}
	switch env.Type {
	case methodCardToken:
		return CardToken{Token: env.Token}, nil
	case methodWalletTransfer:
		return WalletTransfer{WalletAddress: env.WalletAddress, Asset: env.Asset}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, env.Type)
	}
}
