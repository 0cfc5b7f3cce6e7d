package enforce

import (
	"fmt"
	"math"

	"github.com/rs/zerolog/log"
)

func init() {
	checkCompiler()
}

// ENFORCE helper to halt program on error
func ENFORCE(query interface{}, args ...interface{}) {
	switch t := query.(type) {
	case bool:
		if !t {
			log.Error().Msg("ENFORCE: " + fmt.Sprint(args...))
			panic(0)
		}
	case error:
		if t != nil {
			log.Error().Msg("ENFORCE: " + fmt.Sprint(args...))
			panic(t)
		}
	case string:
		log.Error().Msg("ENFORCE: " + t + " " + fmt.Sprint(args...))
		panic(t)
	case nil:
		// Allow nil to pass since we sometimes do enforce.ENFORCE(err) to ensure there is no error
	default:
		log.Error().Msg("ENFORCE: incorrect usage of enforce with type: " + fmt.Sprintf("%T - %v - %v", t, t, args))
		panic(t)
	}
}

// checkCompiler enforces a 64 bit machine; potential arithmetic assumes sizeof(int) == 8.
func checkCompiler() {
	myint := int(math.MaxInt64) // Shouldn't compile on a 32 bit system.
	myint64 := int64(math.MaxInt64)
	ENFORCE(uint64(myint) == uint64(myint64), "Must be on 64 bit system.")
}
