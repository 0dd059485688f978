package knxtunnel

import "testing"

func TestOutMessageQueueFIFO(t *testing.T) {
	var q outMessageQueue
	if !q.empty() {
		t.Fatal("new queue should be empty")
	}

	q.push(OutMessage{Bytes: []byte{1}})
	q.push(OutMessage{Bytes: []byte{2}})
	if q.empty() {
		t.Fatal("queue with pushed items should not be empty")
	}

	head, ok := q.peek()
	if !ok || head.Bytes[0] != 1 {
		t.Fatalf("peek() = %+v, %v; want bytes [1], true", head, ok)
	}

	first, ok := q.pop()
	if !ok || first.Bytes[0] != 1 {
		t.Fatalf("pop() = %+v, %v; want bytes [1], true", first, ok)
	}
	second, ok := q.pop()
	if !ok || second.Bytes[0] != 2 {
		t.Fatalf("pop() = %+v, %v; want bytes [2], true", second, ok)
	}
	if !q.empty() {
		t.Error("queue should be empty after draining both items")
	}
	if _, ok := q.pop(); ok {
		t.Error("pop() on an empty queue should report false")
	}
}

func TestOutMessageQueueClear(t *testing.T) {
	var q outMessageQueue
	q.push(OutMessage{Bytes: []byte{1}})
	q.push(OutMessage{Bytes: []byte{2}})
	q.clear()
	if !q.empty() {
		t.Error("clear() should leave the queue empty")
	}

	q.push(OutMessage{Bytes: []byte{3}})
	head, ok := q.peek()
	if !ok || head.Bytes[0] != 3 {
		t.Errorf("peek() after clear and push = %+v, %v; want bytes [3], true", head, ok)
	}
}
