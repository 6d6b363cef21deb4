package main

import (
	"time"

	"gni.dev/sdb/internal/coroutine"
)

const demoTick = 500 * time.Millisecond

// startDemo spawns the program sdb debugs: workers producers feeding squares
// to a single consumer.
func startDemo(sched *coroutine.Scheduler, workers int) {
	if workers == 0 {
		return
	}
	queue := coroutine.NewChannel(workers)
	for id := 1; id <= workers; id++ {
		sched.Run(func(co *coroutine.Coroutine) {
			produce(co, id, queue)
		})
	}
	sched.Run(func(co *coroutine.Coroutine) {
		consume(co, queue)
	})
}

func produce(co *coroutine.Coroutine, id int, queue *coroutine.Channel) {
	co.Func("demo", "produce", "id", id)
	defer co.Leave()

	for n := id; ; n += id {
		co.Line()
		co.Set("n", n)
		v := square(co, n)
		co.Line()
		co.Set("v", v)
		if err := queue.Push(co, v); err != nil {
			return
		}
		co.Line()
		if err := co.Sleep(time.Duration(id) * demoTick); err != nil {
			return
		}
	}
}

func square(co *coroutine.Coroutine, n int) int {
	co.Func("demo", "square", "n", n)
	defer co.Leave()

	co.Line()
	return n * n
}

func consume(co *coroutine.Coroutine, queue *coroutine.Channel) {
	co.Func("demo", "consume")
	defer co.Leave()

	sum, count := 0, 0
	for {
		co.Line()
		v, err := queue.Pop(co, -1)
		if err != nil {
			return
		}
		co.Line()
		sum += v.(int)
		count++
		co.Set("sum", sum)
		co.Set("count", count)
	}
}
