package notification

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ArionMiles/tab/pkg/api"
)

func transfer(title, body string) *api.Message {
	return &api.Message{
		Kind:       api.KindNotification,
		Sender:     BankPackage,
		Title:      title,
		Body:       body,
		ReceivedAt: time.Date(2024, time.May, 3, 18, 4, 0, 0, time.UTC),
	}
}

func TestParse(t *testing.T) {
	p := New(nil)

	t.Run("MVR transfer", func(t *testing.T) {
		got := p.Parse(transfer("Funds Transferred", "You have sent MVR 1.0 from 7730*2789 to FARY"))
		require.NotNil(t, got)
		assert.Equal(t, "Fary", got.Description)
		assert.InDelta(t, 1.0, got.Amount, 0.001)
		assert.Equal(t, api.CurrencyMVR, got.Currency)
		assert.Equal(t, time.Date(2024, time.May, 3, 18, 4, 0, 0, time.UTC), got.Date)
		amt, cur := got.Original()
		assert.Equal(t, "MVR", cur)
		assert.InDelta(t, 1.0, amt, 0.001)
	})

	t.Run("USD transfer converts", func(t *testing.T) {
		got := p.Parse(transfer("Funds Transferred", "you have sent usd 10.50 from 7730*2789 to john   doe"))
		require.NotNil(t, got)
		assert.Equal(t, "John Doe", got.Description)
		assert.InDelta(t, 161.91, got.Amount, 0.001)
		amt, cur := got.Original()
		assert.Equal(t, "USD", cur)
		assert.InDelta(t, 10.5, amt, 0.001)
	})

	t.Run("received funds ignored", func(t *testing.T) {
		assert.Nil(t, p.Parse(transfer("Funds Transferred", "You have received MVR 50 from 1234")))
	})

	t.Run("other title ignored", func(t *testing.T) {
		assert.Nil(t, p.Parse(transfer("Login alert", "You have sent MVR 5 from 1*2 to X")))
	})

	t.Run("other package ignored", func(t *testing.T) {
		msg := transfer("Funds Transferred", "You have sent MVR 5 from 1*2 to X")
		msg.Sender = "com.example.chat"
		assert.Nil(t, p.Parse(msg))
	})

	t.Run("unknown format", func(t *testing.T) {
		assert.Nil(t, p.Parse(transfer("Funds Transferred", "You have sent a payment request")))
	})
}

func TestFullText(t *testing.T) {
	msg := transfer("Funds Transferred", "You have sent MVR 1.0 from 7730*2789 to Fary")
	msg.BigText = "details"
	assert.Equal(t, "Funds Transferred | You have sent MVR 1.0 from 7730*2789 to Fary | details", FullText(msg))
}
