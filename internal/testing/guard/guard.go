package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("VALECORE_TEST_MODE") == "" {
			_ = os.Setenv("VALECORE_TEST_MODE", "1")
		}
	})
}
