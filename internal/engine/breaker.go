package engine

// FailureBreaker считает подряд идущие сбои адаптера. При достижении потолка новые входы
// останавливаются; выходы по открытым позициям продолжаются. Сбрасывается чистым тиком.
type FailureBreaker struct {
	ceiling     int
	consecutive int
}

func NewFailureBreaker(ceiling int) *FailureBreaker {
	return &FailureBreaker{ceiling: ceiling}
}

// Failure возвращает true в момент перехода в состояние остановки.
func (b *FailureBreaker) Failure() bool {
	b.consecutive++
	return b.ceiling > 0 && b.consecutive == b.ceiling
}

// Clean возвращает true, если остановка была снята.
func (b *FailureBreaker) Clean() bool {
	was := b.Halted()
	b.consecutive = 0
	return was
}

func (b *FailureBreaker) Halted() bool {
	return b.ceiling > 0 && b.consecutive >= b.ceiling
}

func (b *FailureBreaker) Consecutive() int {
	return b.consecutive
}
