package driver

import "time"

type QuestDriverOpt func(*QuestDriver)

func WithTickLength(tickLength time.Duration) QuestDriverOpt {
	return func(d *QuestDriver) {
		d.tickLength = tickLength
	}
}
