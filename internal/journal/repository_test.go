package journal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestColumnFormatsMatchSchemaScale(t *testing.T) {
	require.Equal(t, "121.00", toAmount(121))
	require.Equal(t, "48.40", toAmount(48.4))

	// Quantities carry three decimals; rounding one to the amount
	// scale would diverge from what the external ledger stores.
	require.Equal(t, "0.125", toQuantity(0.125))
	require.Equal(t, "2.500", toQuantity(2.5))
	require.Equal(t, "0.000", toQuantity(0))
}
