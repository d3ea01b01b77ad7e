package peppi

// MakeUnboundedChannel returns a send/receive pair backed by an
// internal queue, so a fast producer never blocks on a slow consumer.
// Kept from the teacher's util.go; used here by FeedReader to forward
// live-stream bytes.
func MakeUnboundedChannel[K any]() (chan<- *K, <-chan *K) {
	in := make(chan *K)
	out := make(chan *K)

	go func() {
		var sendQueue []*K
		outCh := func() chan *K {
			if len(sendQueue) == 0 {
				return nil
			}
			return out
		}
		toSend := func() *K {
			if len(sendQueue) == 0 {
				return nil
			}
			return sendQueue[0]
		}

		for len(sendQueue) > 0 || in != nil {
			select {
			case e, ok := <-in:
				if !ok {
					in = nil
				} else {
					sendQueue = append(sendQueue, e)
				}
			case outCh() <- toSend():
				sendQueue = sendQueue[1:]
			}
		}
		close(out)
	}()

	return in, out
}
