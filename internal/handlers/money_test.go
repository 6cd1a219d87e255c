package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	domain "github.com/hanko-field/fulfillment/internal/domain"
	"github.com/hanko-field/fulfillment/internal/platform/httpx"
)

func TestLocalizerTag(t *testing.T) {
	localizer := NewLocalizer(language.Japanese)

	cases := []struct {
		header string
		want   string
	}{
		{header: "", want: "ja"},
		{header: "de-DE,de;q=0.9,en;q=0.5", want: "de"},
		{header: "fr-CA", want: "fr"},
		{header: "zz", want: "ja"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.header != "" {
			req.Header.Set("Accept-Language", tc.header)
		}
		base, _ := localizer.Tag(req).Base()
		require.Equal(t, tc.want, base.String(), tc.header)
	}

	var none *Localizer
	require.Equal(t, language.English, none.Tag(httptest.NewRequest(http.MethodGet, "/", nil)))
}

func TestAmountInputResolve(t *testing.T) {
	cents := func(v int64) *int64 { return &v }

	got, err := amountInput{Cents: cents(1250)}.resolve("unit_price", true)
	require.NoError(t, err)
	require.Equal(t, domain.Money(1250), got)

	got, err = amountInput{Display: " 12.50 "}.resolve("unit_price", true)
	require.NoError(t, err)
	require.Equal(t, domain.Money(1250), got)

	got, err = amountInput{Cents: cents(1250), Display: "12.5"}.resolve("unit_price", true)
	require.NoError(t, err)
	require.Equal(t, domain.Money(1250), got)

	got, err = amountInput{}.resolve("allocated_shipping_cost", false)
	require.NoError(t, err)
	require.Zero(t, got)

	for _, input := range []amountInput{{}, {Display: "twelve"}, {Cents: cents(1), Display: "12.50"}} {
		_, err := input.resolve("unit_price", true)
		var httpErr httpx.Error
		require.True(t, errors.As(err, &httpErr), "%+v", input)
		require.Equal(t, http.StatusBadRequest, httpErr.Status)
		require.Equal(t, "unit_price", httpErr.Details["field"])
	}
}
