package scanner

import (
	"strconv"

	"github.com/gagliardetto/solana-go"
)

func lamportsToSOL(lamports int64) float64 {
	return float64(lamports) / float64(solana.LAMPORTS_PER_SOL)
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func abbrev(addr string) string {
	if len(addr) > 12 {
		return addr[:6] + "..." + addr[len(addr)-4:]
	}
	return addr
}
