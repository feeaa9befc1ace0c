package csvdata

const maxPromptJSON = 8000

const singlePrompt = `You are a retail analyst. Using the JSON below, return:
1) 5 concise, numbered insights
2) 3 actions (bullets)
Keep it short and practical.
JSON:
%s
`

const pairPrompt = `You are a retail analyst. Using the combined JSON (sales + inventory), return:
1) 6 concise, numbered insights that connect sales and inventory (e.g., stockouts impacting revenue, high AOV items vs. on-hand)
2) 4 prioritized actions (bullets), referencing SKUs/dates if relevant
Keep it short and practical.
JSON:
%s
`

const batchPrompt = `You are a retail analyst. Using the aggregated JSON (may include multiple sales and inventory files),
return:
1) 6 concise, numbered insights connecting sales and inventory (e.g., stockouts causing missed revenue, fast movers vs on-hand).
2) 4 prioritized actions (bullets), referencing SKUs/dates if relevant.
Be brief and practical.

JSON:
%s
`
