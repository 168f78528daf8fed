// Package chat is the Twitch chat feed.
//
// A Buffer keeps the latest PRIVMSGs of one channel in a bounded ring and
// implements cycle.Feed, so the leaderboard engine polls it exactly like the
// HTTP feeds. Two pieces fill it:
//   - Buffer.Record connects to Twitch IRC (go-twitch-irc) with the bot
//     credentials and pushes every message of the channel.
//   - Watcher polls Helix stream status, publishes the live flag to the
//     Buffer and starts the IRC recorder when the channel goes live, stopping
//     it again when the stream ends.
//
// Credentials: the IRC client requires a bot username and a user OAuth token
// with the chat:read scope. Helix status uses an app token (client
// credentials), which cannot be used for IRC.
package chat
