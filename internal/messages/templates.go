package messages

// ConfirmationMessages open the reply sent when a task is scheduled
var ConfirmationMessages = []string{
	"You are right, that's a banger! ⚡ (Consider zapping to keep the algo alive! ⚡)",
	"This will be even better the second time! ⚡ (Electricity bills don't pay themselves 👀)",
	"🔥🔥🔥 Absolute fire tweet! Let's spread it! ⚡ (Zap to keep the fire burning! 🔥)",
	"That's some premium content right there! ⚡ (Premium content deserves premium zaps! ⚡)",
	"Certified banger detected! 🔥⚡ (Server costs are real, but worth it! 😄)",
	"This deserves more eyeballs for sure! ⚡ (More eyeballs = more zaps needed! 👀)",
	"Quality content never gets old! ⚡ (But zaps keep the bot young! ⚡)",
	"Time to give this gem another spotlight! (Bot needs coffee too ☕⚡)",
	"This tweet is too good to be forgotten! 💎⚡ (Zap to keep the memory alive! 💎)",
	"Pure gold that needs to shine again! ✨⚡ (Gold content needs gold zaps! ✨)",
	"A classic that deserves a comeback! 🎯⚡ (Hosting ain't free, but vibes are! 🎉)",
	"This is the content we live for! 🚀⚡ (Zap to fuel the rocket! 🚀)",
	"Second time's the charm, third time's the banger! 🎭⚡ (Third time's the zap charm! ⚡)",
	"Like fine wine, this tweet gets better with age! 🍷⚡ (Electricity bills age too 👀)",
	"The sequel is always better than the original! 🎬⚡ (Sequel zaps are even better! ⚡)",
	"You are the algorithm now! 🤖⚡ (Human algo knows what's good! 🧠⚡)",
	"Breaking the algorithm with this one! 💥⚡ (Your algo can't resist this banger! 🤖⚡)",
	"Your algorithm is having a moment! 🎭⚡ (Even human algos have feelings! ❤️⚡)",
}

// RepostMessages head every repost. {mentioner} is replaced by the requester name.
var RepostMessages = []string{
	"This banger is brought to you by {mentioner}. 🔥",
	"Curated by {mentioner}. ✨",
	"Blame {mentioner} for this much heat. 🔥⚡",
	"{mentioner} requested this banger to resurface. 🚀",
	"Sponsored by {mentioner}'s great taste. 👌",
	"Certified by {mentioner}. Proceed to vibe. 🎯",
	"Courtesy of {mentioner}'s impeccable taste. 👌💎",
	"Another masterpiece discovered by {mentioner}. 🎨✨",
	"Thanks to {mentioner} for this gem! 💎⚡",
	"Brought back by popular demand from {mentioner}. 📢🎉",
	"{mentioner} beeing the algo now. 🤖✅",
	"The algo loves this, thanks to {mentioner}. 🧠❤️",
	"No algo, no problem thanks to {mentioner}. 💥🤖",
}

// InvalidCommandMessages explain the grammar when a mention cannot be parsed
var InvalidCommandMessages = []string{
	"I didn't catch that 🤔 Reply to a note with something like \"repeat weekly for 3 weeks\" or \"daily 2 times\". Say \"cancel\" to stop.",
	"Not sure what you want me to do 🙈 Try \"repeat daily for 2 days\" (minutely, hourly, daily, weekly, monthly or yearly, up to 5 times).",
	"Command not recognized ⚡ Usage: \"[repeat] <interval> [for] <count>\", for example \"hourly 3 times\". Use \"cancel\" to stop a schedule.",
}

// ZapReplyMessages are posted under a published repost
var ZapReplyMessages = []string{
	"Enjoying the banger? Zap it to keep the bot alive! ⚡",
	"Bangers run on sats. Zap this repost to keep them coming! ⚡🔥",
	"If this made your timeline better, a zap keeps the lights on 💡⚡",
	"Zap the banger, fuel the bot 🤖⚡",
}
