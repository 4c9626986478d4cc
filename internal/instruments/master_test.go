package instruments

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/niveshlabs/nivesh/internal/domain"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"NIFTY", "^NSEI"},
		{"NIFTY50", "^NSEI"},
		{"^NSEI", "^NSEI"},
		{"nifty 50", "^NSEI"},
		{"BANKNIFTY", "^NSEBANK"},
		{"SENSEX", "^BSESN"},
		{"RELIANCE", "RELIANCE.NS"},
		{"RELIANCE.NS", "RELIANCE.NS"},
		{"TATASTEEL.BO", "TATASTEEL.BO"},
		{" infy ", "INFY.NS"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestResolveFallback(t *testing.T) {
	m := NewMaster(t.TempDir(), nil, zerolog.Nop())

	inst, err := m.Resolve(context.Background(), "NIFTY")
	require.NoError(t, err)
	assert.Equal(t, domain.InstrumentKey("NSE_INDEX|Nifty 50"), inst.InstrumentKey)

	inst, err = m.Resolve(context.Background(), "RELIANCE")
	require.NoError(t, err)
	assert.Equal(t, "INE002A01018", inst.ISIN)

	_, err = m.Resolve(context.Background(), "NOSUCHSYM.NS")
	assert.Error(t, err)
}

func TestResolveFromDownload(t *testing.T) {
	csv := "instrument_key,tradingsymbol,isin,name,extra\n" +
		"NSE_EQ|INE123X01010,ACME,INE123X01010,Acme Industries Ltd,ignored\n" +
		",MISSINGKEY,,bad row,\n"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(csv))
	}))
	defer srv.Close()

	m := NewMaster(t.TempDir(), map[string]string{"NSE": srv.URL}, zerolog.Nop())

	inst, err := m.Resolve(context.Background(), "ACME")
	require.NoError(t, err)
	assert.Equal(t, domain.InstrumentKey("NSE_EQ|INE123X01010"), inst.InstrumentKey)
	assert.Equal(t, "Acme Industries Ltd", inst.Name)

	// Fallback entries survive the merge.
	inst, err = m.Resolve(context.Background(), "INFY")
	require.NoError(t, err)
	assert.Equal(t, "INE009A01021", inst.ISIN)
}

func TestResolveDownloadDenied(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	m := NewMaster(t.TempDir(), map[string]string{"NSE": srv.URL}, zerolog.Nop())

	// The hard-coded map still covers major symbols.
	inst, err := m.Resolve(context.Background(), "TCS.NS")
	require.NoError(t, err)
	assert.Equal(t, "INE467B01029", inst.ISIN)
}
