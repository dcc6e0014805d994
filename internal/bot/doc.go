// Package bot routes Telegram messages to the review core.
//
// Commands: /start, /quiz <id>, /due, /answer <id> <text>, /help. A plain
// message right after /quiz answers the quiz that was shown.
package bot
