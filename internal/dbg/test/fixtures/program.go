package fixtures

import (
	"time"

	"gni.dev/sdb/internal/coroutine"
)

const tick = time.Millisecond

// Worker adds up the first rounds integers, one Add call per round.
func Worker(co *coroutine.Coroutine, rounds int) int {
	co.Func("fixtures", "Worker", "rounds", rounds)
	defer co.Leave()

	total := 0
	for i := 0; i < rounds; i++ {
		co.Line() // @loop
		co.Set("i", i)
		total = Add(co, total, i)
		co.Line() // @after
		co.Set("total", total)
		if err := co.Sleep(tick); err != nil {
			return total
		}
	}
	return total
}

func Add(co *coroutine.Coroutine, a, b int) int {
	co.Func("fixtures", "Add", "a", a, "b", b)
	defer co.Leave()

	co.Line() // @add
	return a + b
}

// Spinner keeps switching until it is killed.
func Spinner(co *coroutine.Coroutine) {
	co.Func("fixtures", "Spinner")
	defer co.Leave()

	for {
		co.Line() // @spin
		if err := co.Sleep(tick); err != nil {
			return
		}
	}
}

// Idle never switches again once parked.
func Idle(co *coroutine.Coroutine) {
	co.Func("fixtures", "Idle")
	defer co.Leave()

	co.Line() // @idle
	co.Yield()
}
