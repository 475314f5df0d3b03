package ui

import (
	"sync"

	"github.com/eiannone/keyboard"
)

const (
	KeyEnter rune = '\r'
	KeyEsc   rune = 27
)

var (
	keyCh     chan rune
	startOnce sync.Once
)

// StartKeyEvents returns a channel that emits single-key runes read without
// waiting for Enter. Enter arrives as KeyEnter and Esc as KeyEsc.
func StartKeyEvents() chan rune {
	startOnce.Do(func() {
		keyCh = make(chan rune, 64)
		if err := keyboard.Open(); err != nil {
			// No terminal; the channel never emits.
			return
		}
		go func() {
			defer keyboard.Close()
			for {
				char, key, err := keyboard.GetKey()
				if err != nil {
					close(keyCh)
					return
				}
				var r rune
				switch {
				case key == 0:
					r = char
				case key == keyboard.KeyEnter:
					r = KeyEnter
				case key == keyboard.KeyEsc || key == keyboard.KeyCtrlC:
					r = KeyEsc
				default:
					continue
				}
				select {
				case keyCh <- r:
				default:
				}
			}
		}()
	})
	return keyCh
}

// DrainKeys consumes any immediately available keys to avoid accidental triggers.
func DrainKeys() {
	ch := StartKeyEvents()
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

// WaitEnter blocks until Enter (true) or Esc (false). A closed keyboard
// counts as Esc.
func WaitEnter() bool {
	return waitEnter(StartKeyEvents())
}

func waitEnter(ch <-chan rune) bool {
	for r := range ch {
		switch r {
		case KeyEnter:
			return true
		case KeyEsc, 'q', 'Q':
			return false
		}
	}
	return false
}
