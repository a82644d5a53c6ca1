package mentions

import "github.com/nbd-wtf/go-nostr"

// TargetEventID finds the event a mention refers to: the e tag marked as
// reply, else the last e tag.
func TargetEventID(mention nostr.Event) string {
	var last string
	for _, tag := range mention.Tags {
		if len(tag) < 2 || tag[0] != "e" || tag[1] == "" {
			continue
		}
		if len(tag) >= 4 && tag[3] == "reply" {
			return tag[1]
		}
		last = tag[1]
	}
	return last
}

func mentionsPubKey(evt nostr.Event, pubkey string) bool {
	for _, tag := range evt.Tags {
		if len(tag) >= 2 && tag[0] == "p" && tag[1] == pubkey {
			return true
		}
	}
	return false
}
