package event

import "reflect"

// trySend attempts a non-blocking send of value on the channel represented
// by ch, returning whether it succeeded.
func trySend(ch reflect.Value, value reflect.Value) bool {
	chosen, _, _ := reflect.Select([]reflect.SelectCase{
		{Dir: reflect.SelectSend, Chan: ch, Send: value},
		{Dir: reflect.SelectDefault},
	})
	return chosen == 0
}
