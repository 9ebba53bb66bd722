package msggen

import (
	json2 "encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/squareup/ksession/errors"
)

// Example message generators

type PaymentGenerator struct {
}

func (p *PaymentGenerator) Name() string {
	return "payments"
}

func (p *PaymentGenerator) GenerateMessage(index int64, rnd *rand.Rand) ([]byte, error) {
	paymentTypes := []string{"btc", "p2p", "other"}
	currencies := []string{"gbp", "usd", "eur", "aud"}

	m := make(map[string]interface{})
	m["payment_id"] = fmt.Sprintf("payment%06d", index)
	m["customer_id"] = index % 17
	m["amount"] = fmt.Sprintf("%.2f", float64(rnd.Int31n(1000000))/10)
	m["payment_type"] = paymentTypes[int(index)%len(paymentTypes)]
	m["currency"] = currencies[int(index)%len(currencies)]
	m["fraud_score"] = fmt.Sprintf("%.2f", rnd.Float64())
	m["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
	json, err := json2.Marshal(&m)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return json, nil
}

// SequenceGenerator produces "message-<index>", which makes ordering easy to check on the consuming side.
type SequenceGenerator struct {
}

func (s *SequenceGenerator) Name() string {
	return "sequence"
}

func (s *SequenceGenerator) GenerateMessage(index int64, _ *rand.Rand) ([]byte, error) {
	return []byte(fmt.Sprintf("message-%d", index)), nil
}
