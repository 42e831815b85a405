package bot

// tryEnqueue неблокирующая отправка в буферизованный канал.
// При переполнении событие отбрасывается, переполнение и заполненность
// буфера попадают в метрики под именем buffer.
func tryEnqueue[T any](buffer string, ch chan T, v T) bool {
	if ch == nil {
		return false
	}

	select {
	case ch <- v:
		return true
	default:
		RecordBufferOverflow(buffer)
		RecordBufferBacklog(buffer, cap(ch), len(ch))
		return false
	}
}
